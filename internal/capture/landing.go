package capture

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

// captureLanding follows the click url on the same page and returns a
// full-page screenshot plus the url reached after redirects.
func (o *Orchestrator) captureLanding(ctx context.Context, page cdpcontrol.Page, clickURL string, diag *Diagnostics) ([]byte, string, error) {
	err := page.Goto(ctx, clickURL, cdpcontrol.GotoOptions{
		WaitUntil: cdpcontrol.WaitNetworkIdle,
		Timeout:   o.policy.NavigationTimeout,
	})
	if err != nil {
		return nil, "", fmt.Errorf("load landing page: %w", err)
	}
	if rep, err := o.remover.Clear(ctx, page); err == nil {
		diag.ObstructionsHidden += rep.Hidden
	}
	if err := o.sleep(ctx, o.policy.LandingSettle); err != nil {
		return nil, "", err
	}
	img, err := page.Screenshot(ctx, cdpcontrol.ScreenshotOptions{FullPage: true, Format: "png"})
	if err != nil {
		return nil, "", fmt.Errorf("landing screenshot: %w", err)
	}
	finalURL, err := page.URL(ctx)
	if err != nil {
		finalURL = clickURL
	}
	return img, finalURL, nil
}
