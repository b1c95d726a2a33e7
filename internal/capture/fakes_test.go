package capture

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/creative"
	"github.com/dgnsrekt/adcapture/internal/inject"
	"github.com/dgnsrekt/adcapture/internal/obstruction"
)

type fakePage struct {
	gotoErr  map[string]error
	shotErr  error
	probes   []PageProbe
	finalURL string

	visited []string
	shots   []cdpcontrol.ScreenshotOptions
	closed  int
}

func (p *fakePage) Goto(_ context.Context, url string, _ cdpcontrol.GotoOptions) error {
	p.visited = append(p.visited, url)
	return p.gotoErr[url]
}

func (p *fakePage) Screenshot(_ context.Context, opts cdpcontrol.ScreenshotOptions) ([]byte, error) {
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	p.shots = append(p.shots, opts)
	return []byte("png:" + p.visited[len(p.visited)-1]), nil
}

func (p *fakePage) Evaluate(_ context.Context, script string, out any) error {
	var data any
	switch {
	case strings.Contains(script, "link_count"):
		probe := PageProbe{Title: "Publisher", TextLength: 5000, LinkCount: 100}
		if len(p.probes) > 0 {
			probe, p.probes = p.probes[0], p.probes[1:]
		}
		data = probe
	case strings.Contains(script, "srcAttrs"):
		data = lazyReport{Eager: 2, Restored: 3, Steps: 4}
	default:
		return nil
	}
	if out == nil {
		return nil
	}
	raw, _ := json.Marshal(data)
	return json.Unmarshal(raw, out)
}

func (p *fakePage) URL(context.Context) (string, error) {
	if p.finalURL == "" {
		return p.visited[len(p.visited)-1], nil
	}
	return p.finalURL, nil
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

type fakeDetector struct {
	ranking  adslot.Ranking
	err      error
	fallback *adslot.DetectedSlot
	panics   bool
}

func (d *fakeDetector) Detect(context.Context, adslot.Evaluator) (adslot.Ranking, error) {
	if d.panics {
		panic("detector exploded")
	}
	return d.ranking, d.err
}

func (d *fakeDetector) FindBannerFallback(context.Context, adslot.Evaluator) (*adslot.DetectedSlot, error) {
	return d.fallback, nil
}

type fakeInjector struct {
	fail  map[string]bool
	calls []string
}

func (f *fakeInjector) Inject(_ context.Context, _ adslot.Evaluator, slot adslot.DetectedSlot, _ string, _ inject.Options) inject.Result {
	f.calls = append(f.calls, slot.Selector)
	if f.fail[slot.Selector] {
		return inject.Result{Method: inject.MethodReplaceContent, Error: "slot collapsed"}
	}
	return inject.Result{Success: true, Method: inject.MethodReplaceContent, ImageLoaded: true}
}

type fakeRemover struct{ calls int }

func (r *fakeRemover) Clear(context.Context, adslot.Evaluator) (obstruction.Report, error) {
	r.calls++
	return obstruction.Report{Hidden: 1}, nil
}

type fakeCreatives struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *fakeCreatives) Source(_ context.Context, u string) creative.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[u]++
	cr := creative.Creative{URL: u, ContentType: "image/png", Data: []byte("img")}
	return creative.Source{Value: cr.DataURL(), Embedded: true, Creative: &cr}
}

// fakeClock advances only when the orchestrator sleeps.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

func slots(n int) []adslot.DetectedSlot {
	out := make([]adslot.DetectedSlot, n)
	for i := range out {
		out[i] = adslot.DetectedSlot{
			Selector:   `[data-adcap-slot="` + strconv.Itoa(i) + `"]`,
			Kind:       adslot.KindGenericContainer,
			Geometry:   adslot.Geometry{Width: 300, Height: 250},
			Confidence: 140 - i,
		}
	}
	return out
}

type harness struct {
	page     *fakePage
	detector *fakeDetector
	injector *fakeInjector
	remover  *fakeRemover
	orch     *Orchestrator
}

func newHarness(n int) *harness {
	h := &harness{
		page:     &fakePage{},
		detector: &fakeDetector{ranking: adslot.Ranking{Slots: slots(n), Raw: n}},
		injector: &fakeInjector{},
		remover:  &fakeRemover{},
	}
	h.orch = NewOrchestrator(h.detector, h.injector, h.remover, &fakeCreatives{}, DefaultPolicy())
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	h.orch.now, h.orch.sleep = clock.now, clock.sleep
	return h
}

func request() Request {
	return Request{
		ID:            "cap-1",
		Channel:       ChannelGDN,
		PublisherURL:  "https://news.example.com/article",
		CreativeURL:   "https://cdn.example.com/creative.png",
		InjectionMode: ModeSingle,
		SlotCount:     1,
	}
}
