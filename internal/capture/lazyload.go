package capture

import (
	"context"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

const jsLazyLoad = `
var cfg = %s;
var eager = 0, restored = 0;
document.querySelectorAll('img[loading="lazy"], iframe[loading="lazy"]').forEach(function(el) {
  el.loading = 'eager';
  eager++;
});
var srcAttrs = ['data-src', 'data-lazy-src', 'data-original', 'data-lazy', 'data-echo', 'data-url'];
document.querySelectorAll('img, iframe').forEach(function(el) {
  var cur = el.getAttribute('src') || '';
  var placeholder = cur === '' || cur.indexOf('data:') === 0 || /blank|spacer|placeholder|1x1/i.test(cur);
  if (placeholder) {
    for (var i = 0; i < srcAttrs.length; i++) {
      var v = el.getAttribute(srcAttrs[i]);
      if (v) { el.setAttribute('src', v); restored++; break; }
    }
  }
  var ss = el.getAttribute('data-srcset');
  if (ss && !el.getAttribute('srcset')) el.setAttribute('srcset', ss);
});
var vh = window.innerHeight || 900;
var limit = Math.min(document.documentElement.scrollHeight, vh * cfg.viewports);
var steps = 0;
for (var y = vh; y < limit; y += vh) {
  window.scrollTo(0, y);
  steps++;
  await new Promise(function(r) { setTimeout(r, cfg.step_ms); });
}
window.scrollTo(0, 0);
return JSON.stringify({ok: true, data: {eager: eager, restored: restored, steps: steps}});`

// jsScrollTop resets scroll position several times because some sites
// restore their own scroll offset after the first reset.
const jsScrollTop = `
for (var i = 0; i < 3; i++) {
  window.scrollTo(0, 0);
  if (document.documentElement) document.documentElement.scrollTop = 0;
  if (document.body) document.body.scrollTop = 0;
  await new Promise(function(r) { setTimeout(r, 100); });
}
return JSON.stringify({ok: true, data: window.scrollY});`

type lazyReport struct {
	Eager    int `json:"eager"`
	Restored int `json:"restored"`
	Steps    int `json:"steps"`
}

func (o *Orchestrator) forceLazyLoad(ctx context.Context, page cdpcontrol.Page) (lazyReport, error) {
	var rep lazyReport
	cfg := map[string]any{
		"viewports": o.policy.LazyScrollViewports,
		"step_ms":   o.policy.LazyScrollStep.Milliseconds(),
	}
	err := page.Evaluate(ctx, asyncScript(jsLazyLoad, cfg), &rep)
	return rep, err
}

func (o *Orchestrator) scrollTop(ctx context.Context, page cdpcontrol.Page) error {
	return page.Evaluate(ctx, cdpcontrol.WrapEvalAsync(jsScrollTop), nil)
}
