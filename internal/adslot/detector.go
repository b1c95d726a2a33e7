package adslot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

// FallbackAttr marks elements found by the last-resort banner scan.
const FallbackAttr = "data-adcap-fallback"

// Evaluator runs a wrapped script in the page and decodes its data.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// Detector collects a DOM snapshot from a live page and ranks it.
type Detector struct {
	policy Policy
}

func NewDetector(policy Policy) *Detector {
	return &Detector{policy: policy}
}

func (d *Detector) Policy() Policy { return d.policy }

const jsCollect = `
var cfg = %s;
var ATTR = cfg.attr;
document.querySelectorAll('[' + ATTR + ']').forEach(function(el) { el.removeAttribute(ATTR); });
var set = new Set();
function add(el) {
  if (el && el.nodeType === 1 && el !== document.body && el !== document.documentElement) set.add(el);
}
document.querySelectorAll('ins').forEach(add);
document.querySelectorAll('iframe').forEach(function(el) { add(el); add(el.parentElement); });
cfg.selectors.forEach(function(sel) {
  try { document.querySelectorAll(sel).forEach(add); } catch (e) {}
});
document.querySelectorAll(cfg.size_tags.join(',')).forEach(function(el) {
  var r = el.getBoundingClientRect();
  if (r.width < cfg.size_min_w || r.height < cfg.size_min_h) return;
  for (var i = 0; i < cfg.sizes.length; i++) {
    var s = cfg.sizes[i];
    if (Math.abs(r.width - s.w) <= s.tolerance && Math.abs(r.height - s.h) <= s.tolerance) { add(el); return; }
  }
});
var list = Array.from(set);
list.sort(function(a, b) {
  if (a === b) return 0;
  return (a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING) ? -1 : 1;
});
var index = new Map();
list.forEach(function(el, i) { index.set(el, i); el.setAttribute(ATTR, String(i)); });
var elements = list.map(function(el, i) {
  var r = el.getBoundingClientRect();
  var st = window.getComputedStyle(el);
  var op = parseFloat(st.opacity);
  return {
    ref: i,
    parent: el.parentElement && index.has(el.parentElement) ? index.get(el.parentElement) : -1,
    tag: el.tagName.toLowerCase(),
    id: el.id || '',
    class: typeof el.className === 'string' ? el.className : (el.getAttribute('class') || ''),
    src: el.src || el.getAttribute('src') || '',
    attrs: cfg.attrs.filter(function(a) { return el.hasAttribute(a); }),
    rect: {width: r.width, height: r.height, x: r.x, y: r.y},
    position: st.position,
    display: st.display,
    visibility: st.visibility,
    opacity: isNaN(op) ? 1 : op,
    media_count: el.querySelectorAll('img, iframe, canvas').length,
    text_length: (el.textContent || '').trim().length
  };
});
return JSON.stringify({ok: true, data: {
  viewport_width: window.innerWidth,
  viewport_height: window.innerHeight || 900,
  elements: elements
}});`

func (d *Detector) collectScript() string {
	cfg := map[string]any{
		"attr":       SlotAttr,
		"selectors":  d.policy.containerSelectors(),
		"attrs":      d.policy.attrNames(),
		"size_tags":  d.policy.SizeMatchTags,
		"size_min_w": d.policy.SizeMatchMinW,
		"size_min_h": d.policy.SizeMatchMinH,
		"sizes":      d.policy.IABSizes,
	}
	return cdpcontrol.WrapEval(fmt.Sprintf(jsCollect, cdpcontrol.JSJSON(cfg)))
}

// Snapshot stamps candidate elements with SlotAttr and returns their facts.
func (d *Detector) Snapshot(ctx context.Context, ev Evaluator) (Snapshot, error) {
	var snap Snapshot
	if err := ev.Evaluate(ctx, d.collectScript(), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("collect ad slot candidates: %w", err)
	}
	return snap, nil
}

// Detect collects and ranks ad slots on the current page.
func (d *Detector) Detect(ctx context.Context, ev Evaluator) (Ranking, error) {
	snap, err := d.Snapshot(ctx, ev)
	if err != nil {
		return Ranking{}, err
	}
	ranking := Rank(snap, d.policy)
	slog.Info("adslot detect",
		"candidates", len(snap.Elements),
		"raw", ranking.Raw,
		"kept", len(ranking.Slots),
		"fell_back", ranking.FellBack)
	for i, s := range ranking.Slots {
		slog.Debug("adslot ranked",
			"rank", i,
			"kind", s.Kind,
			"size", fmt.Sprintf("%.0fx%.0f", s.Geometry.Width, s.Geometry.Height),
			"confidence", s.Confidence,
			"fixed", s.IsFixed)
	}
	return ranking, nil
}

const jsBannerScan = `
var cfg = %s;
var out = [];
document.querySelectorAll('[' + cfg.attr + ']').forEach(function(el) { el.removeAttribute(cfg.attr); });
document.querySelectorAll('iframe, img').forEach(function(el) {
  if (el.closest('[' + cfg.injected + ']')) return;
  var r = el.getBoundingClientRect();
  var st = window.getComputedStyle(el);
  var op = parseFloat(st.opacity);
  var i = out.length;
  el.setAttribute(cfg.attr, String(i));
  out.push({
    ref: i, parent: -1,
    tag: el.tagName.toLowerCase(),
    id: el.id || '',
    src: el.src || '',
    rect: {width: r.width, height: r.height, x: r.x, y: r.y},
    position: st.position, display: st.display, visibility: st.visibility,
    opacity: isNaN(op) ? 1 : op
  });
});
return JSON.stringify({ok: true, data: out});`

// InjectedAttr is set on every element carrying an injected creative.
const InjectedAttr = "data-adcap-injected"

// FindBannerFallback scans for any visible banner-sized iframe or image,
// ignoring detector confidence. It returns nil when none qualifies.
func (d *Detector) FindBannerFallback(ctx context.Context, ev Evaluator) (*DetectedSlot, error) {
	cfg := map[string]string{"attr": FallbackAttr, "injected": InjectedAttr}
	var elems []Element
	if err := ev.Evaluate(ctx, cdpcontrol.WrapEval(fmt.Sprintf(jsBannerScan, cdpcontrol.JSJSON(cfg))), &elems); err != nil {
		return nil, fmt.Errorf("scan banner fallback: %w", err)
	}
	return PickBannerFallback(elems, d.policy), nil
}

// PickBannerFallback returns the largest visible element whose size lies in
// the last-resort banner range.
func PickBannerFallback(elems []Element, policy Policy) *DetectedSlot {
	var best *Element
	for i := range elems {
		e := &elems[i]
		if !e.visible() || !policy.LastResortBanners.contains(e.Rect.Width, e.Rect.Height) {
			continue
		}
		if best == nil || e.Rect.Area() > best.Rect.Area() {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return &DetectedSlot{
		Selector: "[" + FallbackAttr + `="` + strconv.Itoa(best.Ref) + `"]`,
		TagName:  strings.ToLower(best.Tag),
		Geometry: Geometry{
			Width:  math.Round(best.Rect.Width),
			Height: math.Round(best.Rect.Height),
			X:      math.Round(best.Rect.X),
			Y:      math.Round(best.Rect.Y),
		},
		Kind:    KindGenericContainer,
		IsFixed: best.fixed(),
	}
}
