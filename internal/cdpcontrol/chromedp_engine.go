package cdpcontrol

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine drives a browser through chromedp. It spawns a local
// browser, or attaches to Options.CDPURL when set.
type ChromedpEngine struct {
	opts Options

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpEngine returns an engine that is not yet launched.
func NewChromedpEngine(opts Options) *ChromedpEngine {
	return &ChromedpEngine{opts: opts.withDefaults()}
}

func (e *ChromedpEngine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !e.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	for _, f := range append(append([]string{}, browserFlags...), e.opts.ExtraFlags...) {
		name, value := splitFlag(f)
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts,
		chromedp.WindowSize(e.opts.Viewport.Width, e.opts.Viewport.Height),
		chromedp.UserAgent(e.opts.UserAgent),
	)
	if e.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.opts.ExecPath))
	}
	return opts
}

// Launch starts (or attaches to) the browser.
func (e *ChromedpEngine) Launch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil {
		return nil
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if e.opts.CDPURL != "" {
		slog.Info("cdpcontrol attach to browser", "engine", "chromedp", "cdp_url", e.opts.CDPURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), e.opts.CDPURL)
	} else {
		slog.Info("cdpcontrol launch browser", "engine", "chromedp", "headless", e.opts.Headless)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), e.allocatorOptions()...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()
	select {
	case err := <-errCh:
		if err != nil {
			browserCancel()
			allocCancel()
			return newError(CodeLaunchFailed, "start browser failed", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return newError(CodeLaunchFailed, "start browser cancelled", ctx.Err())
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	return nil
}

// NewPage opens a tab with CSP bypass, viewport, UA and stealth applied.
func (e *ChromedpEngine) NewPage(ctx context.Context) (Page, error) {
	e.mu.Lock()
	browserCtx := e.browserCtx
	e.mu.Unlock()
	if browserCtx == nil {
		return nil, newError(CodeCDPUnavailable, "browser not launched", nil)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	p := &chromedpPage{ctx: tabCtx, cancel: tabCancel, evalTimeout: e.opts.EvalTimeout}
	chromedp.ListenTarget(tabCtx, p.trackRequests)

	vp := e.opts.Viewport
	err := chromedp.Run(tabCtx,
		network.Enable(),
		page.Enable(),
		page.SetBypassCSP(true),
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), vp.DeviceScaleFactor, vp.Mobile),
		emulation.SetUserAgentOverride(e.opts.UserAgent).WithAcceptLanguage(e.opts.AcceptLanguage),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": e.opts.AcceptLanguage}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		tabCancel()
		return nil, newError(CodeCDPUnavailable, "open page failed", err)
	}
	return p, nil
}

// Close tears down the browser. Safe to call more than once.
func (e *ChromedpEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCancel != nil {
		e.browserCancel()
		e.browserCancel = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.browserCtx = nil
	return nil
}

type chromedpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	evalTimeout time.Duration
	inflight    atomic.Int64
}

func (p *chromedpPage) trackRequests(ev any) {
	switch ev.(type) {
	case *network.EventRequestWillBeSent:
		p.inflight.Add(1)
	case *network.EventLoadingFinished, *network.EventLoadingFailed:
		if p.inflight.Add(-1) < 0 {
			p.inflight.Store(0)
		}
	}
}

// run executes actions on the tab while honouring the caller's ctx.
func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	timeout := navTimeout(opts)
	start := time.Now()
	p.inflight.Store(0)
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return newError(CodeNavigation, "navigate to "+url+" failed", err)
	}
	if opts.WaitUntil == WaitNetworkIdle {
		remaining := timeout - time.Since(start)
		if !waitIdle(ctx, remaining, func() int64 { return p.inflight.Load() }) {
			slog.Debug("cdpcontrol network idle not reached", "url", url, "inflight", p.inflight.Load())
		}
	}
	return nil
}

func (p *chromedpPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	switch {
	case opts.FullPage && screenshotFormat(opts) == "png":
		action = chromedp.FullScreenshot(&buf, 100)
	case opts.FullPage:
		action = chromedp.FullScreenshot(&buf, jpegQuality(opts.Quality))
	case screenshotFormat(opts) == "png":
		action = chromedp.CaptureScreenshot(&buf)
	default:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(jpegQuality(opts.Quality))).
				Do(ctx)
			return err
		})
	}
	if err := p.run(ctx, 60*time.Second, action); err != nil {
		return nil, newError(CodeCDPUnavailable, "screenshot failed", err)
	}
	return buf, nil
}

func (p *chromedpPage) Evaluate(ctx context.Context, script string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()

	var raw string
	err := p.run(evalCtx, p.evalTimeout, chromedp.Evaluate(script, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "engine", "chromedp", "error", err)
		return evalError(evalCtx, err)
	}
	return decodeEnvelope(raw, out)
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, 10*time.Second, chromedp.Location(&loc)); err != nil {
		return "", newError(CodeCDPUnavailable, "read location failed", err)
	}
	return loc, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

func jpegQuality(q int) int {
	if q <= 0 || q > 100 {
		return 90
	}
	if q == 100 {
		return 99
	}
	return q
}
