// Package capture drives one publisher page from navigation to screenshot:
// it forces lazy content, waits out bot challenges, detects ad slots,
// injects the creative and records diagnostics for every stage.
package capture

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

// Mode selects how many slots receive the creative.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeAll    Mode = "all"
	ModeCustom Mode = "custom"
)

// Request is one capture job. It is not modified once submitted.
type Request struct {
	ID             string `json:"id"`
	Channel        string `json:"channel"`
	PublisherURL   string `json:"publisher_url"`
	CreativeURL    string `json:"creative_url"`
	ClickURL       string `json:"click_url,omitempty"`
	CaptureLanding bool   `json:"capture_landing"`
	InjectionMode  Mode   `json:"injection_mode"`
	SlotCount      int    `json:"slot_count"`
}

// WithDefaults fills the channel, mode and slot count when unset.
func (r Request) WithDefaults() Request {
	if r.Channel == "" {
		r.Channel = ChannelGDN
	}
	if r.InjectionMode == "" {
		r.InjectionMode = ModeSingle
	}
	if r.SlotCount <= 0 {
		r.SlotCount = 1
	}
	return r
}

func validationError(format string, args ...any) error {
	return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf(format, args...), nil)
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Validate reports the first problem with r as a VALIDATION error.
func (r Request) Validate() error {
	if !httpURL(r.PublisherURL) {
		return validationError("publisher_url must be an absolute http(s) url: %q", r.PublisherURL)
	}
	if !httpURL(r.CreativeURL) && !strings.HasPrefix(r.CreativeURL, "data:image/") {
		return validationError("creative_url must be an http(s) or data:image url")
	}
	if r.ClickURL != "" && !httpURL(r.ClickURL) {
		return validationError("click_url must be an absolute http(s) url: %q", r.ClickURL)
	}
	switch r.InjectionMode {
	case ModeSingle, ModeAll:
	case ModeCustom:
		if r.SlotCount < 1 {
			return validationError("slot_count must be at least 1 for custom mode")
		}
	default:
		return validationError("unknown injection_mode %q", r.InjectionMode)
	}
	if _, err := LookupChannel(r.Channel); err != nil {
		return err
	}
	return nil
}
