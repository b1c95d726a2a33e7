package cdpcontrol

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/stealth"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options configures every engine implementation.
type Options struct {
	// CDPURL attaches to an existing browser (http://host:port) instead of
	// spawning one. Ignored by the rod engine.
	CDPURL         string
	ExecPath       string
	Headless       bool
	Viewport       Viewport
	UserAgent      string
	AcceptLanguage string
	EvalTimeout    time.Duration
	ExtraFlags     []string
}

// DefaultOptions returns a high-density desktop profile.
func DefaultOptions() Options {
	return Options{
		Headless:       true,
		Viewport:       Viewport{Width: 2560, Height: 1440, DeviceScaleFactor: 2},
		UserAgent:      defaultUserAgent,
		AcceptLanguage: "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
		EvalTimeout:    30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		o.Viewport = d.Viewport
	}
	if o.Viewport.DeviceScaleFactor <= 0 {
		o.Viewport.DeviceScaleFactor = 1
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = d.AcceptLanguage
	}
	if o.EvalTimeout <= 0 {
		o.EvalTimeout = d.EvalTimeout
	}
	return o
}

// browserFlags are the switches every spawned browser receives.
var browserFlags = []string{
	"no-sandbox",
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
	"disable-web-security",
	"disable-features=VizDisplayCompositor",
	"hide-scrollbars",
}

// stealthScript is evaluated before any document script on every page.
var stealthScript = stealth.JS

func navTimeout(opts GotoOptions) time.Duration {
	if opts.Timeout <= 0 {
		return 30 * time.Second
	}
	return opts.Timeout
}

func screenshotFormat(opts ScreenshotOptions) string {
	if opts.Format == "jpeg" {
		return "jpeg"
	}
	return "png"
}

// splitFlag turns "name=value" into a chromedp flag pair. Bare names are
// boolean switches.
func splitFlag(f string) (string, any) {
	f = strings.TrimLeft(strings.TrimSpace(f), "-")
	if name, value, ok := strings.Cut(f, "="); ok {
		return name, value
	}
	return f, true
}

// waitIdle polls until at most two requests are in flight for 500ms, the
// budget runs out, or ctx ends. It reports whether idle was reached.
func waitIdle(ctx context.Context, budget time.Duration, inflight func() int64) bool {
	if budget <= 0 {
		return false
	}
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var quietSince time.Time
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case now := <-ticker.C:
			if inflight() > 2 {
				quietSince = time.Time{}
				continue
			}
			if quietSince.IsZero() {
				quietSince = now
			}
			if now.Sub(quietSince) >= 500*time.Millisecond {
				return true
			}
		}
	}
}
