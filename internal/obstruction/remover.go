// Package obstruction hides cookie banners, modals and similar overlays so
// they do not cover a capture. Elements are hidden, never removed.
package obstruction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

const (
	// CandidateAttr is stamped on every collected candidate for one pass.
	CandidateAttr = "data-adcap-obstruction"
	// HiddenAttr marks elements hidden by the remover.
	HiddenAttr = "data-adcap-hidden"
)

// Report summarises one Clear pass.
type Report struct {
	Candidates int `json:"candidates"`
	Hidden     int `json:"hidden"`
	Protected  int `json:"protected"`
}

type Remover struct {
	policy Policy
}

func NewRemover(policy Policy) *Remover {
	return &Remover{policy: policy}
}

type collected struct {
	Viewport   Viewport    `json:"viewport"`
	Candidates []Candidate `json:"candidates"`
}

const jsCollect = `
var cfg = %s;
document.querySelectorAll('[' + cfg.attr + ']').forEach(function(el) { el.removeAttribute(cfg.attr); });
var found = new Map();
function note(el, reason) {
  if (!el || el.nodeType !== 1) return;
  var rs = found.get(el);
  if (!rs) { rs = []; found.set(el, rs); }
  if (rs.indexOf(reason) < 0) rs.push(reason);
}
cfg.selectors.forEach(function(sel) {
  try { document.querySelectorAll(sel).forEach(function(el) { note(el, 'pattern'); }); } catch (e) {}
});
var half = window.innerWidth * window.innerHeight / 2;
document.querySelectorAll('body *').forEach(function(el) {
  var st = window.getComputedStyle(el);
  if (st.position !== 'fixed' && st.position !== 'absolute') return;
  if (st.position === 'fixed' && parseInt(st.zIndex, 10) > 0) note(el, 'z-index');
  var r = el.getBoundingClientRect();
  if (r.width * r.height >= half) note(el, 'backdrop');
});
function alpha(bg) {
  var m = /rgba?\(([^)]+)\)/.exec(bg || '');
  if (!m) return 0;
  var parts = m[1].split(',');
  return parts.length > 3 ? parseFloat(parts[3]) : 1;
}
function isAd(el) {
  return !!(el.closest('ins.adsbygoogle') || (el.id && el.id.indexOf('google_ads') >= 0) ||
    (el.id && el.id.indexOf('ad-slot') >= 0) || el.hasAttribute('data-ad-slot') ||
    el.querySelector('ins.adsbygoogle'));
}
var out = [];
found.forEach(function(reasons, el) {
  var st = window.getComputedStyle(el);
  var r = el.getBoundingClientRect();
  var z = parseInt(st.zIndex, 10);
  var op = parseFloat(st.opacity);
  var i = out.length;
  el.setAttribute(cfg.attr, String(i));
  out.push({
    ref: i,
    tag: el.tagName.toLowerCase(),
    id: el.id || '',
    class: typeof el.className === 'string' ? el.className : (el.getAttribute('class') || ''),
    reasons: reasons,
    position: st.position,
    z_index: isNaN(z) ? 0 : z,
    opacity: isNaN(op) ? 1 : op,
    bg_alpha: alpha(st.backgroundColor),
    rect: {width: r.width, height: r.height},
    text_length: (el.textContent || '').trim().length,
    child_count: el.children.length,
    hidden: el.hasAttribute(cfg.hidden) || st.display === 'none',
    injected: !!el.closest('[' + cfg.injected + ']') || !!el.querySelector('[' + cfg.injected + ']'),
    ad_markup: isAd(el)
  });
});
return JSON.stringify({ok: true, data: {
  viewport: {width: window.innerWidth, height: window.innerHeight},
  candidates: out
}});`

const jsHide = `
var cfg = %s;
var n = 0;
cfg.refs.forEach(function(ref) {
  var el = document.querySelector('[' + cfg.attr + '="' + ref + '"]');
  if (!el || el.hasAttribute(cfg.hidden)) return;
  el.style.setProperty('display', 'none', 'important');
  el.setAttribute(cfg.hidden, '1');
  n++;
});
[document.documentElement, document.body].forEach(function(el) {
  if (!el) return;
  el.style.setProperty('overflow', 'auto', 'important');
  el.style.setProperty('overflow-y', 'auto', 'important');
});
return JSON.stringify({ok: true, data: n});`

// Clear hides every planned obstruction on the page and restores scrolling.
func (r *Remover) Clear(ctx context.Context, ev adslot.Evaluator) (Report, error) {
	cfg := map[string]any{
		"attr":      CandidateAttr,
		"hidden":    HiddenAttr,
		"injected":  adslot.InjectedAttr,
		"selectors": r.policy.Selectors,
	}
	var got collected
	if err := ev.Evaluate(ctx, cdpcontrol.WrapEval(fmt.Sprintf(jsCollect, cdpcontrol.JSJSON(cfg))), &got); err != nil {
		return Report{}, fmt.Errorf("collect obstructions: %w", err)
	}

	rep := Report{Candidates: len(got.Candidates)}
	refs := []int{}
	for _, d := range Plan(got.Candidates, got.Viewport, r.policy) {
		switch {
		case d.Hide:
			refs = append(refs, d.Ref)
		case d.Reason != "no rule" && d.Reason != "already hidden":
			rep.Protected++
		}
	}

	hideCfg := map[string]any{"attr": CandidateAttr, "hidden": HiddenAttr, "refs": refs}
	if err := ev.Evaluate(ctx, cdpcontrol.WrapEval(fmt.Sprintf(jsHide, cdpcontrol.JSJSON(hideCfg))), &rep.Hidden); err != nil {
		return rep, fmt.Errorf("hide obstructions: %w", err)
	}
	slog.Debug("obstructions cleared", "candidates", rep.Candidates, "hidden", rep.Hidden, "protected", rep.Protected)
	return rep, nil
}
