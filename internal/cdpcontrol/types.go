package cdpcontrol

import (
	"context"
	"fmt"
	"time"
)

const (
	CodeValidation     = "VALIDATION"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeNavigation     = "NAVIGATION_FAILED"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeLaunchFailed   = "BROWSER_LAUNCH_FAILED"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for callers outside this package.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}

// WaitUntil selects the navigation completion condition.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// GotoOptions controls a navigation.
type GotoOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// ScreenshotOptions controls image capture.
type ScreenshotOptions struct {
	FullPage bool
	Format   string // "png" or "jpeg"
	Quality  int    // jpeg only
}

// Viewport describes the emulated device metrics applied to every page.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor" yaml:"device_scale_factor"`
	Mobile            bool    `json:"mobile" yaml:"mobile"`
}

// Engine is a browser session. A batch owns exactly one Engine.
type Engine interface {
	Launch(ctx context.Context) error
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Scripts passed to Evaluate must return a JSON
// envelope string (see WrapEval).
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Evaluate(ctx context.Context, script string, out any) error
	URL(ctx context.Context) (string, error)
	Close() error
}
