package cdpcontrol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodEngine drives a rod-managed browser. Pages are created through
// stealth.Page so the evasion script is installed by rod itself.
type RodEngine struct {
	opts Options

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func NewRodEngine(opts Options) *RodEngine {
	return &RodEngine{opts: opts.withDefaults()}
}

func (e *RodEngine) Launch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil {
		return nil
	}

	controlURL := e.opts.CDPURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(e.opts.Headless)
		if e.opts.ExecPath != "" {
			l = l.Bin(e.opts.ExecPath)
		}
		for _, f := range append(append([]string{}, browserFlags...), e.opts.ExtraFlags...) {
			name, value := splitFlag(f)
			if s, ok := value.(string); ok {
				l = l.Set(flags.Flag(name), s)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		u, err := l.Launch()
		if err != nil {
			return newError(CodeLaunchFailed, "start browser failed", err)
		}
		e.launcher = l
		controlURL = u
		slog.Info("cdpcontrol launch browser", "engine", "rod", "control_url", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if e.launcher != nil {
			e.launcher.Kill()
			e.launcher = nil
		}
		return newError(CodeCDPUnavailable, "connect to browser failed", err)
	}
	e.browser = b
	return nil
}

func (e *RodEngine) NewPage(ctx context.Context) (Page, error) {
	e.mu.Lock()
	b := e.browser
	e.mu.Unlock()
	if b == nil {
		return nil, newError(CodeCDPUnavailable, "browser not launched", nil)
	}

	pg, err := stealth.Page(b.Context(ctx))
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "open page failed", err)
	}
	vp := e.opts.Viewport
	setup := func() error {
		if err := (proto.PageSetBypassCSP{Enabled: true}).Call(pg); err != nil {
			return err
		}
		if err := pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             vp.Width,
			Height:            vp.Height,
			DeviceScaleFactor: vp.DeviceScaleFactor,
			Mobile:            vp.Mobile,
		}); err != nil {
			return err
		}
		if err := pg.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      e.opts.UserAgent,
			AcceptLanguage: e.opts.AcceptLanguage,
		}); err != nil {
			return err
		}
		_, err := pg.SetExtraHeaders([]string{"Accept-Language", e.opts.AcceptLanguage})
		return err
	}
	if err := setup(); err != nil {
		_ = pg.Close()
		return nil, newError(CodeCDPUnavailable, "prepare page failed", err)
	}
	return &rodPage{page: pg, evalTimeout: e.opts.EvalTimeout}, nil
}

func (e *RodEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher.Cleanup()
		e.launcher = nil
	}
	return err
}

type rodPage struct {
	page        *rod.Page
	evalTimeout time.Duration
}

func (p *rodPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	timeout := navTimeout(opts)
	pg := p.page.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	if err := pg.Navigate(url); err != nil {
		return newError(CodeNavigation, "navigate to "+url+" failed", err)
	}
	if opts.WaitUntil == WaitDOMContentLoaded {
		return nil
	}
	if err := pg.WaitLoad(); err != nil {
		return newError(CodeNavigation, "navigate to "+url+" timed out", err)
	}
	if opts.WaitUntil == WaitNetworkIdle {
		if err := pg.WaitIdle(timeout); err != nil {
			slog.Debug("cdpcontrol network idle not reached", "url", url, "error", err)
		}
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if screenshotFormat(opts) == "jpeg" {
		q := jpegQuality(opts.Quality)
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &q
	}
	img, err := p.page.Context(ctx).Screenshot(opts.FullPage, req)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "screenshot failed", err)
	}
	return img, nil
}

func (p *rodPage) Evaluate(ctx context.Context, script string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()

	res, err := p.page.Context(evalCtx).Evaluate(rod.Eval("() => " + script).ByPromise())
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "engine", "rod", "error", err)
		return evalError(evalCtx, err)
	}
	return decodeEnvelope(res.Value.Str(), out)
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", newError(CodeCDPUnavailable, "read location failed", err)
	}
	return info.URL, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
