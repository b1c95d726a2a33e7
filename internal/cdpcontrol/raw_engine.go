package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessLauncher starts and stops a browser exposing a CDP endpoint.
type ProcessLauncher interface {
	Launch(ctx context.Context) error
	Stop()
}

// RawEngine drives pages over one raw websocket connection. When a launcher
// is given it owns the browser process as well.
type RawEngine struct {
	opts     Options
	launcher ProcessLauncher

	mu  sync.Mutex
	cdp *rawCDP
}

// NewRawEngine returns an engine connecting to opts.CDPURL. launcher may be
// nil when the browser is managed elsewhere.
func NewRawEngine(opts Options, launcher ProcessLauncher) *RawEngine {
	return &RawEngine{opts: opts.withDefaults(), launcher: launcher}
}

func (e *RawEngine) Launch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cdp != nil {
		return nil
	}
	if e.opts.CDPURL == "" {
		return newError(CodeLaunchFailed, "missing CDP URL", nil)
	}
	if e.launcher != nil {
		if err := e.launcher.Launch(ctx); err != nil {
			return newError(CodeLaunchFailed, "start browser failed", err)
		}
	}

	slog.Info("cdpcontrol connect start", "engine", "rawcdp", "cdp_url", e.opts.CDPURL)
	cdp := newRawCDP(e.opts.CDPURL)
	if err := cdp.connect(ctx); err != nil {
		if e.launcher != nil {
			e.launcher.Stop()
		}
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	e.cdp = cdp
	return nil
}

func (e *RawEngine) NewPage(ctx context.Context) (Page, error) {
	e.mu.Lock()
	cdp := e.cdp
	e.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targetID, err := cdp.createTarget(ctx, "about:blank")
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "create target failed", err)
	}
	sessionID, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		_ = cdp.closeTarget(ctx, targetID)
		return nil, newError(CodeCDPUnavailable, "attach to target failed", err)
	}

	p := &rawPage{cdp: cdp, targetID: targetID, sessionID: sessionID, evalTimeout: e.opts.EvalTimeout}
	p.watchNetwork()
	if err := cdp.preparePage(ctx, sessionID, e.opts); err != nil {
		_ = p.Close()
		return nil, newError(CodeCDPUnavailable, "prepare page failed", err)
	}
	slog.Debug("cdpcontrol page opened", "engine", "rawcdp", "target_id", targetID)
	return p, nil
}

func (e *RawEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cdp != nil {
		e.cdp.close()
		e.cdp = nil
	}
	if e.launcher != nil {
		e.launcher.Stop()
	}
	return nil
}

type rawPage struct {
	cdp         *rawCDP
	targetID    string
	sessionID   string
	evalTimeout time.Duration

	inflight   atomic.Int64
	unregister []func()
	closeOnce  sync.Once
}

func (p *rawPage) watchNetwork() {
	onStart := func(sessionID string, _ json.RawMessage) {
		if sessionID == p.sessionID {
			p.inflight.Add(1)
		}
	}
	onDone := func(sessionID string, _ json.RawMessage) {
		if sessionID == p.sessionID && p.inflight.Add(-1) < 0 {
			p.inflight.Store(0)
		}
	}
	p.unregister = append(p.unregister,
		p.cdp.subscribe("Network.requestWillBeSent", onStart),
		p.cdp.subscribe("Network.loadingFinished", onDone),
		p.cdp.subscribe("Network.loadingFailed", onDone),
	)
}

func (p *rawPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	timeout := navTimeout(opts)
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	event := "Page.loadEventFired"
	if opts.WaitUntil == WaitDOMContentLoaded {
		event = "Page.domContentEventFired"
	}
	fired := make(chan struct{}, 1)
	unregister := p.cdp.subscribe(event, func(sessionID string, _ json.RawMessage) {
		if sessionID != p.sessionID {
			return
		}
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer unregister()

	p.inflight.Store(0)
	if err := p.cdp.navigate(navCtx, p.sessionID, url); err != nil {
		return newError(CodeNavigation, "navigate to "+url+" failed", err)
	}
	select {
	case <-fired:
	case <-navCtx.Done():
		return newError(CodeNavigation, "navigate to "+url+" timed out", navCtx.Err())
	}

	if opts.WaitUntil == WaitNetworkIdle {
		deadline, _ := navCtx.Deadline()
		if !waitIdle(ctx, time.Until(deadline), func() int64 { return p.inflight.Load() }) {
			slog.Debug("cdpcontrol network idle not reached", "url", url, "inflight", p.inflight.Load())
		}
	}
	return nil
}

func (p *rawPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	var clip *screenshotClip
	if opts.FullPage {
		w, h, err := p.cdp.contentSize(ctx, p.sessionID)
		if err != nil {
			return nil, newError(CodeCDPUnavailable, "read layout metrics failed", err)
		}
		clip = &screenshotClip{Width: math.Ceil(w), Height: math.Ceil(h), Scale: 1}
	}
	format := screenshotFormat(opts)
	quality := 0
	if format == "jpeg" {
		quality = jpegQuality(opts.Quality)
	}
	data, err := p.cdp.captureScreenshot(ctx, p.sessionID, format, quality, clip)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "screenshot failed", err)
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "decode screenshot failed", err)
	}
	return img, nil
}

func (p *rawPage) Evaluate(ctx context.Context, script string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()

	raw, err := p.cdp.evaluate(evalCtx, p.sessionID, script)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "engine", "rawcdp", "target_id", p.targetID, "error", err)
		return evalError(evalCtx, err)
	}
	return decodeEnvelope(raw, out)
}

func (p *rawPage) URL(ctx context.Context) (string, error) {
	var href string
	if err := p.Evaluate(ctx, WrapEval(`return JSON.stringify({ok:true,data:location.href});`), &href); err != nil {
		return "", err
	}
	return href, nil
}

func (p *rawPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		for _, fn := range p.unregister {
			fn()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.cdp.detachFromTarget(ctx, p.sessionID)
		err = p.cdp.closeTarget(ctx, p.targetID)
	})
	return err
}
