package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/creative"
	"github.com/dgnsrekt/adcapture/internal/inject"
	"github.com/dgnsrekt/adcapture/internal/obstruction"
)

// SlotDetector finds and ranks ad slots on a loaded page.
type SlotDetector interface {
	Detect(ctx context.Context, ev adslot.Evaluator) (adslot.Ranking, error)
	FindBannerFallback(ctx context.Context, ev adslot.Evaluator) (*adslot.DetectedSlot, error)
}

type CreativeInjector interface {
	Inject(ctx context.Context, ev adslot.Evaluator, slot adslot.DetectedSlot, src string, opts inject.Options) inject.Result
}

type ObstructionClearer interface {
	Clear(ctx context.Context, ev adslot.Evaluator) (obstruction.Report, error)
}

// CreativeSource resolves a creative url to what gets injected.
type CreativeSource interface {
	Source(ctx context.Context, rawURL string) creative.Source
}

type Orchestrator struct {
	detector  SlotDetector
	injector  CreativeInjector
	remover   ObstructionClearer
	creatives CreativeSource
	policy    Policy
	challenge ChallengePatterns

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewOrchestrator(d SlotDetector, in CreativeInjector, r ObstructionClearer, c CreativeSource, policy Policy) *Orchestrator {
	return &Orchestrator{
		detector:  d,
		injector:  in,
		remover:   r,
		creatives: c,
		policy:    policy,
		challenge: DefaultChallengePatterns(),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func script(body string, cfg any) string {
	return cdpcontrol.WrapEval(fmt.Sprintf(body, cdpcontrol.JSJSON(cfg)))
}

func asyncScript(body string, cfg any) string {
	return cdpcontrol.WrapEvalAsync(fmt.Sprintf(body, cdpcontrol.JSJSON(cfg)))
}

// Run fetches the creative and captures req on page.
func (o *Orchestrator) Run(ctx context.Context, page cdpcontrol.Page, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return o.RunWithSource(ctx, page, req, o.creatives.Source(ctx, req.CreativeURL))
}

// RunWithSource captures req on page using an already resolved creative.
// Navigation and screenshot failures are returned as errors; everything
// else degrades and is recorded in the diagnostics.
func (o *Orchestrator) RunWithSource(ctx context.Context, page cdpcontrol.Page, req Request, src creative.Source) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ch, err := LookupChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	started := o.now()
	diag := &Diagnostics{}
	clock := &stageClock{diag: diag, now: o.now}
	log := slog.With("capture_id", req.ID, "url", req.PublisherURL)

	diag.CreativeDownloaded = src.Embedded
	if src.Creative != nil {
		diag.CreativeSizeBytes = len(src.Creative.Data)
		diag.CreativeContentType = src.Creative.ContentType
	}
	if src.Err != nil {
		diag.CreativeError = src.Err.Error()
	}

	fail := func(stage string, err error) (*Result, error) {
		diag.Outcome, diag.FailedStage = StageFailed, stage
		log.Error("capture failed", "stage", stage, "error", err)
		return nil, &StageError{Stage: stage, Elapsed: o.now().Sub(started), Diagnostics: *diag, Err: err}
	}

	clock.begin(StageLoading)
	err = page.Goto(ctx, req.PublisherURL, cdpcontrol.GotoOptions{
		WaitUntil: cdpcontrol.WaitNetworkIdle,
		Timeout:   o.policy.NavigationTimeout,
	})
	if err == nil {
		err = o.sleep(ctx, ch.Settle)
	}
	clock.end(err)
	if err != nil {
		return fail(StageLoading, err)
	}

	clock.begin(StageLazyLoad)
	lazy, err := o.forceLazyLoad(ctx, page)
	clock.end(err)
	if err != nil {
		log.Warn("lazy-load forcing failed", "error", err)
	}
	diag.LazyImagesRestored = lazy.Restored

	clock.begin(StageChallenge)
	o.waitChallenge(ctx, page, diag)
	clock.end(nil)

	o.clearObstructions(ctx, page, diag, log)

	clock.begin(StageDetecting)
	ranking, err := o.detector.Detect(ctx, page)
	clock.end(err)
	if err != nil {
		log.Warn("slot detection failed, continuing without slots", "error", err)
	}
	diag.SlotsDetected = len(ranking.Slots)
	diag.SlotsRaw = ranking.Raw

	clock.begin(StageInjecting)
	o.injectSlots(ctx, page, req, ranking.Slots, src.Value, diag, log)
	if diag.SlotsInjected == 0 {
		o.injectFallback(ctx, page, src.Value, diag, log)
	}
	clock.end(nil)
	if diag.SlotsInjected > 0 {
		o.clearObstructions(ctx, page, diag, log)
	}

	clock.begin(StageStabilize)
	err = o.sleep(ctx, o.policy.StabilizeDelay)
	if err == nil {
		if serr := o.scrollTop(ctx, page); serr != nil {
			log.Warn("scroll reset failed", "error", serr)
		}
	}
	clock.end(err)
	if err != nil {
		return fail(StageStabilize, err)
	}

	clock.begin(StageCapturing)
	img, err := page.Screenshot(ctx, cdpcontrol.ScreenshotOptions{FullPage: ch.FullPage, Format: "png"})
	clock.end(err)
	if err != nil {
		return fail(StageCapturing, err)
	}

	res := &Result{
		RequestID:       req.ID,
		PlacementImage:  img,
		PlacementFormat: "png",
		StartedAt:       started,
		CapturedAt:      o.now(),
	}

	if req.CaptureLanding && req.ClickURL != "" {
		clock.begin(StageLanding)
		landing, finalURL, err := o.captureLanding(ctx, page, req.ClickURL, diag)
		clock.end(err)
		if err != nil {
			diag.LandingError = err.Error()
			log.Warn("landing capture failed", "click_url", req.ClickURL, "error", err)
		} else {
			res.LandingImage, res.LandingFinalURL = landing, finalURL
		}
	}

	diag.Outcome = StageDone
	res.Duration = o.now().Sub(started)
	res.Diagnostics = *diag
	log.Info("capture done",
		"slots", diag.SlotsDetected,
		"attempted", diag.SlotsAttempted,
		"injected", diag.SlotsInjected,
		"fallback", diag.FallbackUsed,
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) clearObstructions(ctx context.Context, page cdpcontrol.Page, diag *Diagnostics, log *slog.Logger) {
	rep, err := o.remover.Clear(ctx, page)
	if err != nil {
		log.Warn("obstruction removal failed", "error", err)
		return
	}
	diag.ObstructionsHidden += rep.Hidden
}

// injectSlots attempts slots best-first until the mode's target is met or
// its attempt budget is spent. No slot is attempted twice.
func (o *Orchestrator) injectSlots(ctx context.Context, page cdpcontrol.Page, req Request, slots []adslot.DetectedSlot, src string, diag *Diagnostics, log *slog.Logger) {
	maxAttempts, target := o.policy.Limits(req.InjectionMode, req.SlotCount)
	for i, slot := range slots {
		detail := SlotDetail{
			Rank:       i + 1,
			Selector:   slot.Selector,
			Kind:       slot.Kind,
			Width:      slot.Geometry.Width,
			Height:     slot.Geometry.Height,
			Confidence: slot.Confidence,
			IsFixed:    slot.IsFixed,
		}
		if diag.SlotsAttempted < maxAttempts && diag.SlotsInjected < target && ctx.Err() == nil {
			res := o.injector.Inject(ctx, page, slot, src, inject.Options{FitToSlot: true})
			detail.Injection = &res
			if res.Nested {
				log.Info("slot skipped, overlaps an injected creative", "rank", i+1, "kind", slot.Kind)
				diag.Slots = append(diag.Slots, detail)
				continue
			}
			detail.Attempted = true
			diag.SlotsAttempted++
			if res.Success {
				diag.SlotsInjected++
				log.Info("slot injected", "rank", i+1, "kind", slot.Kind, "method", res.Method, "confidence", slot.Confidence)
			} else {
				log.Warn("slot injection failed", "rank", i+1, "kind", slot.Kind, "error", res.Error)
			}
		}
		diag.Slots = append(diag.Slots, detail)
	}
}

// injectFallback replaces any banner-sized iframe or image when ranking
// produced nothing usable.
func (o *Orchestrator) injectFallback(ctx context.Context, page cdpcontrol.Page, src string, diag *Diagnostics, log *slog.Logger) {
	diag.FallbackUsed = true
	slot, err := o.detector.FindBannerFallback(ctx, page)
	if err != nil {
		log.Warn("banner fallback scan failed", "error", err)
		return
	}
	if slot == nil {
		log.Info("no banner-sized element for fallback injection")
		return
	}
	res := o.injector.Inject(ctx, page, *slot, src, inject.Options{FitToSlot: true})
	diag.FallbackInjection = &res
	if res.Success {
		diag.SlotsInjected++
		log.Info("fallback injected", "tag", slot.TagName, "method", res.Method)
	}
}

