package inject

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

// coveredKey names the page global listing slot selectors whose elements
// were removed by a content replacement.
const coveredKey = "__adcapCovered"

// target is the resolved kind of a slot element.
type target interface{ isTarget() }

// unresolvedTarget means the selector no longer matches anything.
type unresolvedTarget struct{}

// nestedTarget is a slot inside, around, or removed by an injected creative.
type nestedTarget struct{}

// iframeTarget is a replaced element that cannot host child content.
type iframeTarget struct{ tag string }

// genericTarget is any container whose children can be replaced.
type genericTarget struct{ tag string }

func (unresolvedTarget) isTarget() {}
func (nestedTarget) isTarget()     {}
func (iframeTarget) isTarget()     {}
func (genericTarget) isTarget()    {}

var replacedTags = []string{"iframe", "img", "video", "canvas", "embed", "object"}

func classify(found, nested bool, tag string) target {
	switch {
	case nested:
		return nestedTarget{}
	case !found:
		return unresolvedTarget{}
	case slices.Contains(replacedTags, tag):
		return iframeTarget{tag: tag}
	default:
		return genericTarget{tag: tag}
	}
}

const jsProbe = `
var cfg = %s;
var el = null;
try { el = document.querySelector(cfg.selector); } catch (e) {}
var inj = '[' + cfg.injected + ']';
var nested = el
  ? !!(el.closest(inj) || el.querySelector(inj))
  : (window[cfg.covered] || []).indexOf(cfg.selector) >= 0;
return JSON.stringify({ok: true, data: {found: !!el, nested: nested, tag: el ? el.tagName.toLowerCase() : ''}});`

func (in *Injector) resolve(ctx context.Context, ev adslot.Evaluator, slot adslot.DetectedSlot) (target, error) {
	var probe struct {
		Found  bool   `json:"found"`
		Nested bool   `json:"nested"`
		Tag    string `json:"tag"`
	}
	cfg := map[string]string{"selector": slot.Selector, "injected": adslot.InjectedAttr, "covered": coveredKey}
	if err := ev.Evaluate(ctx, cdpcontrol.WrapEval(fmt.Sprintf(jsProbe, cdpcontrol.JSJSON(cfg))), &probe); err != nil {
		return nil, fmt.Errorf("resolve slot: %w", err)
	}
	return classify(probe.Found, probe.Nested, probe.Tag), nil
}
