package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// createTarget opens a new tab and returns its target ID.
func (r *rawCDP) createTarget(ctx context.Context, url string) (string, error) {
	var resp struct {
		TargetID string `json:"targetId"`
	}
	if err := r.callInto(ctx, "", "Target.createTarget", map[string]any{"url": url}, &resp); err != nil {
		return "", err
	}
	if resp.TargetID == "" {
		return "", errors.New("rawcdp: Target.createTarget: empty target id")
	}
	return resp.TargetID, nil
}

// attachToTarget opens a flattened session on targetID.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	params := map[string]any{"targetId": targetID, "flatten": true}
	if err := r.callInto(ctx, "", "Target.attachToTarget", params, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", errors.New("rawcdp: Target.attachToTarget: empty session id")
	}
	return resp.SessionID, nil
}

func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	_, err := r.call(ctx, "", "Target.detachFromTarget", map[string]any{"sessionId": sessionID})
	return err
}

func (r *rawCDP) closeTarget(ctx context.Context, targetID string) error {
	_, err := r.call(ctx, "", "Target.closeTarget", map[string]any{"targetId": targetID})
	return err
}

// navigate issues Page.navigate and surfaces navigation-level errors such as
// net::ERR_NAME_NOT_RESOLVED.
func (r *rawCDP) navigate(ctx context.Context, sessionID, url string) error {
	var resp struct {
		ErrorText string `json:"errorText"`
	}
	if err := r.callInto(ctx, sessionID, "Page.navigate", map[string]any{"url": url}, &resp); err != nil {
		return err
	}
	if resp.ErrorText != "" {
		return fmt.Errorf("rawcdp: navigate: %s", resp.ErrorText)
	}
	return nil
}

// preparePage applies the per-page browser configuration on a fresh session.
func (r *rawCDP) preparePage(ctx context.Context, sessionID string, opts Options) error {
	vp := opts.Viewport
	steps := []struct {
		method string
		params any
	}{
		{"Page.enable", nil},
		{"Network.enable", nil},
		{"Page.setBypassCSP", map[string]any{"enabled": true}},
		{"Emulation.setDeviceMetricsOverride", map[string]any{
			"width":             vp.Width,
			"height":            vp.Height,
			"deviceScaleFactor": vp.DeviceScaleFactor,
			"mobile":            vp.Mobile,
		}},
		{"Emulation.setUserAgentOverride", map[string]any{
			"userAgent":      opts.UserAgent,
			"acceptLanguage": opts.AcceptLanguage,
		}},
		{"Network.setExtraHTTPHeaders", map[string]any{
			"headers": map[string]string{"Accept-Language": opts.AcceptLanguage},
		}},
		{"Page.addScriptToEvaluateOnNewDocument", map[string]any{"source": stealthScript}},
	}
	for _, st := range steps {
		if _, err := r.call(ctx, sessionID, st.method, st.params); err != nil {
			return err
		}
	}
	return nil
}

// evaluate runs js on the session, awaiting promises, and returns the string
// it produced. Non-string values are returned as their JSON text.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	params := map[string]any{"expression": js, "returnByValue": true, "awaitPromise": true}
	if err := r.callInto(ctx, sessionID, "Runtime.evaluate", params, &resp); err != nil {
		return "", err
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("rawcdp: eval exception: %s", resp.ExceptionDetails.Text)
	}
	if resp.Result.Type == "string" {
		var s string
		if err := json.Unmarshal(resp.Result.Value, &s); err == nil {
			return s, nil
		}
	}
	return string(resp.Result.Value), nil
}

// contentSize returns the full document size in CSS pixels.
func (r *rawCDP) contentSize(ctx context.Context, sessionID string) (float64, float64, error) {
	var resp struct {
		CSSContentSize struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"cssContentSize"`
	}
	if err := r.callInto(ctx, sessionID, "Page.getLayoutMetrics", nil, &resp); err != nil {
		return 0, 0, err
	}
	return resp.CSSContentSize.Width, resp.CSSContentSize.Height, nil
}

// screenshotClip bounds a capture in CSS pixels.
type screenshotClip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// captureScreenshot returns base64 image data. A non-nil clip captures
// beyond the viewport, which yields a full-page image.
func (r *rawCDP) captureScreenshot(ctx context.Context, sessionID, format string, quality int, clip *screenshotClip) (string, error) {
	params := map[string]any{"format": format, "fromSurface": true}
	if format == "jpeg" && quality > 0 {
		params["quality"] = quality
	}
	if clip != nil {
		params["clip"] = clip
		params["captureBeyondViewport"] = true
	}
	var resp struct {
		Data string `json:"data"`
	}
	if err := r.callInto(ctx, sessionID, "Page.captureScreenshot", params, &resp); err != nil {
		return "", err
	}
	return resp.Data, nil
}
