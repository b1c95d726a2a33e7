package cdpcontrol

import (
	"fmt"
	"strings"
)

const (
	EngineChromedp = "chromedp"
	EngineRawCDP   = "rawcdp"
	EngineRod      = "rod"
)

// NewEngine builds the named engine. launcher is only used by the raw CDP
// engine and may be nil.
func NewEngine(kind string, opts Options, launcher ProcessLauncher) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", EngineChromedp:
		return NewChromedpEngine(opts), nil
	case EngineRawCDP:
		return NewRawEngine(opts, launcher), nil
	case EngineRod:
		return NewRodEngine(opts), nil
	default:
		return nil, newError(CodeValidation, fmt.Sprintf("unknown engine %q", kind), nil)
	}
}
