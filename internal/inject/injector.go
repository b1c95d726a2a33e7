// Package inject replaces a detected ad slot with a creative image.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/obstruction"
)

// Method names the DOM mutation that was applied.
type Method string

const (
	MethodReplaceContent Method = "replace-content"
	MethodReplaceIframe  Method = "replace-iframe"
	MethodOverlay        Method = "overlay"
	MethodNone           Method = "none"
)

// Result reports one injection attempt. Error carries the failure text, or
// for an overlay fallback the error that forced it. Nested is set when the
// slot overlaps an earlier injection and the page was left untouched.
type Result struct {
	Success     bool   `json:"success"`
	Method      Method `json:"method"`
	Error       string `json:"error,omitempty"`
	ImageLoaded bool   `json:"image_loaded"`
	Nested      bool   `json:"nested,omitempty"`
}

type Options struct {
	FitToSlot          bool
	RemoveObstructions bool
}

// Clearer hides page obstructions before an injection.
type Clearer interface {
	Clear(ctx context.Context, ev adslot.Evaluator) (obstruction.Report, error)
}

type Injector struct {
	clearer          Clearer
	imageLoadTimeout time.Duration
	overlayZIndex    int
}

// evalMargin is the time an injection script needs besides the image wait.
const evalMargin = 2 * time.Second

// ClampImageWait bounds the in-page image wait so the mutation script
// always finishes inside evalTimeout. A script cut off by the eval timeout
// has already changed the DOM but reports failure.
func ClampImageWait(imageLoad, evalTimeout time.Duration) time.Duration {
	if evalTimeout <= 0 {
		return imageLoad
	}
	limit := evalTimeout - evalMargin
	if limit < evalTimeout/2 {
		limit = evalTimeout / 2
	}
	return min(imageLoad, limit)
}

// NewInjector returns an Injector. clearer may be nil when obstruction
// removal is never requested.
func NewInjector(clearer Clearer, imageLoadTimeout time.Duration) *Injector {
	if imageLoadTimeout <= 0 {
		imageLoadTimeout = 10 * time.Second
	}
	return &Injector{clearer: clearer, imageLoadTimeout: imageLoadTimeout, overlayZIndex: 2147483000}
}

// Inject puts src into slot. It never returns an error and never panics;
// every failure is reported in the Result.
func (in *Injector) Inject(ctx context.Context, ev adslot.Evaluator, slot adslot.DetectedSlot, src string, opts Options) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Method: MethodNone, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if opts.RemoveObstructions && in.clearer != nil {
		if _, err := in.clearer.Clear(ctx, ev); err != nil {
			slog.Warn("obstruction removal before injection failed", "selector", slot.Selector, "error", err)
		}
	}

	tgt, err := in.resolve(ctx, ev, slot)
	if err != nil {
		return Result{Method: MethodNone, Error: err.Error()}
	}

	switch t := tgt.(type) {
	case nestedTarget:
		return Result{Method: MethodNone, Nested: true, Error: "slot overlaps an injected creative"}
	case unresolvedTarget:
		return in.overlay(ctx, ev, slot, src, "")
	case iframeTarget:
		r, err := in.run(ctx, ev, jsReplaceIframe, in.scriptConfig(slot, src, opts))
		if err != nil {
			// A timed-out swap may already be in the DOM; an overlay would stack a second creative.
			var coded *cdpcontrol.CodedError
			if errors.As(err, &coded) && coded.Code == cdpcontrol.CodeEvalTimeout {
				return Result{Method: MethodReplaceIframe, Error: err.Error()}
			}
			slog.Info("iframe swap failed, using overlay", "selector", slot.Selector, "tag", t.tag, "error", err)
			return in.overlay(ctx, ev, slot, src, err.Error())
		}
		return Result{Success: true, Method: MethodReplaceIframe, ImageLoaded: r.Loaded}
	case genericTarget:
		r, err := in.run(ctx, ev, jsReplaceContent, in.scriptConfig(slot, src, opts))
		if err != nil {
			return Result{Method: MethodReplaceContent, Error: err.Error()}
		}
		return Result{Success: true, Method: MethodReplaceContent, ImageLoaded: r.Loaded}
	default:
		return Result{Method: MethodNone, Error: fmt.Sprintf("unknown target %T", tgt)}
	}
}

func (in *Injector) overlay(ctx context.Context, ev adslot.Evaluator, slot adslot.DetectedSlot, src, cause string) Result {
	cfg := in.scriptConfig(slot, src, Options{FitToSlot: true})
	cfg["z"] = in.overlayZIndex
	r, err := in.run(ctx, ev, jsOverlay, cfg)
	if err != nil {
		msg := err.Error()
		if cause != "" {
			msg = cause + "; overlay: " + msg
		}
		return Result{Method: MethodOverlay, Error: msg}
	}
	return Result{Success: true, Method: MethodOverlay, Error: cause, ImageLoaded: r.Loaded}
}

func (in *Injector) scriptConfig(slot adslot.DetectedSlot, src string, opts Options) map[string]any {
	return map[string]any{
		"selector":   slot.Selector,
		"src":        src,
		"width":      slot.Geometry.Width,
		"height":     slot.Geometry.Height,
		"x":          slot.Geometry.X,
		"y":          slot.Geometry.Y,
		"fit":        opts.FitToSlot,
		"attr":       adslot.InjectedAttr,
		"slot_attr":  adslot.SlotAttr,
		"covered":    coveredKey,
		"timeout_ms": in.imageLoadTimeout.Milliseconds(),
	}
}

type mutation struct {
	Loaded bool `json:"loaded"`
}

func (in *Injector) run(ctx context.Context, ev adslot.Evaluator, body string, cfg map[string]any) (mutation, error) {
	var m mutation
	script := cdpcontrol.WrapEvalAsync(jsWaitImage + fmt.Sprintf(body, cdpcontrol.JSJSON(cfg)))
	if err := ev.Evaluate(ctx, script, &m); err != nil {
		return mutation{}, err
	}
	return m, nil
}
