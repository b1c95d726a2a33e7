package adslot

import (
	"testing"
)

type elemOpt func(*Element)

func withClass(c string) elemOpt    { return func(e *Element) { e.Class = c } }
func withID(id string) elemOpt      { return func(e *Element) { e.ID = id } }
func withSrc(src string) elemOpt    { return func(e *Element) { e.Src = src } }
func withParent(p int) elemOpt      { return func(e *Element) { e.Parent = p } }
func withPosition(p string) elemOpt { return func(e *Element) { e.Position = p } }
func withMedia(n, text int) elemOpt {
	return func(e *Element) { e.MediaCount, e.TextLength = n, text }
}
func hidden() elemOpt { return func(e *Element) { e.Display = "none" } }

func el(ref int, tag string, w, h, y float64, opts ...elemOpt) Element {
	e := Element{
		Ref:        ref,
		Parent:     -1,
		Tag:        tag,
		Rect:       Geometry{Width: w, Height: h, Y: y},
		Position:   "static",
		Display:    "block",
		Visibility: "visible",
		Opacity:    1,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func snapshot(elems ...Element) Snapshot {
	return Snapshot{ViewportWidth: 2560, ViewportHeight: 1440, Elements: elems}
}

func assertNonIncreasing(t *testing.T, slots []DetectedSlot) {
	t.Helper()
	for i := 1; i < len(slots); i++ {
		if slots[i].Confidence > slots[i-1].Confidence {
			t.Fatalf("slot %d confidence %d > slot %d confidence %d", i, slots[i].Confidence, i-1, slots[i-1].Confidence)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		base  int
		rect  Geometry
		fixed bool
		want  int
	}{
		{"large in viewport", 100, Geometry{Width: 300, Height: 250, Y: 100}, false, 140},
		{"leaderboard", 70, Geometry{Width: 728, Height: 90, Y: 0}, false, 105},
		{"medium", 70, Geometry{Width: 200, Height: 80, Y: 10}, false, 95},
		{"small", 70, Geometry{Width: 300, Height: 50, Y: 10}, false, 60},
		{"offscreen", 70, Geometry{Width: 970, Height: 250, Y: 1500}, false, 95},
		{"negative top", 70, Geometry{Width: 970, Height: 250, Y: -10}, false, 95},
		{"fixed", 70, Geometry{Width: 970, Height: 250, Y: 10}, true, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.base, tt.rect, tt.fixed, 1440); got != tt.want {
				t.Fatalf("Score() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestScoreDefaultsViewportHeight(t *testing.T) {
	if got := Score(50, Geometry{Width: 300, Height: 250, Y: 899}, false, 0); got != 90 {
		t.Fatalf("Score() = %d; want 90", got)
	}
}

func TestRankInsTagBeatsGenericBanner(t *testing.T) {
	snap := snapshot(
		el(0, "div", 970, 250, 400, withClass("top banner")),
		el(1, "ins", 300, 250, 100, withClass("adsbygoogle")),
	)
	got := Rank(snap, DefaultPolicy())
	if len(got.Slots) != 2 {
		t.Fatalf("len(Slots) = %d; want 2", len(got.Slots))
	}
	if got.Slots[0].Kind != KindGoogleAdTag || got.Slots[0].Confidence != 140 {
		t.Fatalf("Slots[0] = %+v; want google-ad-tag at 140", got.Slots[0])
	}
	if got.Slots[1].Kind != KindGenericContainer || got.Slots[1].Confidence != 110 {
		t.Fatalf("Slots[1] = %+v; want generic-ad-container at 110", got.Slots[1])
	}
	if got.Slots[0].Selector != `[data-adcap-slot="1"]` {
		t.Fatalf("Slots[0].Selector = %s", got.Slots[0].Selector)
	}
}

func TestRankFixedPenaltyIsForty(t *testing.T) {
	snap := snapshot(
		el(0, "div", 728, 90, 10, withClass("ad-slot")),
		el(1, "div", 728, 90, 10, withClass("ad-slot"), withPosition("fixed")),
		el(2, "div", 728, 90, 10, withClass("ad-slot"), withPosition("sticky")),
	)
	got := Rank(snap, DefaultPolicy())
	if len(got.Slots) != 3 {
		t.Fatalf("len(Slots) = %d; want 3", len(got.Slots))
	}
	if got.Slots[0].IsFixed {
		t.Fatal("non-fixed slot should rank first")
	}
	for _, s := range got.Slots[1:] {
		if !s.IsFixed {
			t.Fatalf("slot %s should be fixed", s.Selector)
		}
		if delta := s.Confidence - got.Slots[0].Confidence; delta != -40 {
			t.Fatalf("fixed delta = %d; want -40", delta)
		}
	}
}

func TestRankNonIncreasing(t *testing.T) {
	snap := snapshot(
		el(0, "div", 300, 250, 2000, withClass("sidebar-ad-box")),
		el(1, "iframe", 728, 90, 50, withID("google_ads_iframe_1"), withParent(2)),
		el(2, "div", 728, 90, 50),
		el(3, "div", 336, 280, 600, withMedia(1, 10)),
		el(4, "ins", 970, 250, 0, withClass("adsbygoogle"), withPosition("fixed")),
		el(5, "div", 160, 600, 300, withID("sponsor-rail")),
	)
	got := Rank(snap, DefaultPolicy())
	if len(got.Slots) == 0 {
		t.Fatal("expected slots")
	}
	assertNonIncreasing(t, got.Slots)
}

func TestRankMinimumSizeFilter(t *testing.T) {
	snap := snapshot(
		el(0, "div", 320, 50, 1380, withClass("mobile-banner"), withPosition("fixed")),
		el(1, "div", 300, 250, 100, withClass("ad-container")),
	)
	got := Rank(snap, DefaultPolicy())
	if got.Raw != 2 {
		t.Fatalf("Raw = %d; want 2", got.Raw)
	}
	if len(got.Slots) != 1 || got.Slots[0].Geometry.Width != 300 {
		t.Fatalf("Slots = %+v; want only the 300x250 slot", got.Slots)
	}
	if got.FellBack {
		t.Fatal("FellBack = true; want false")
	}
}

func TestRankFallsBackToLargestRaw(t *testing.T) {
	snap := snapshot(
		el(0, "div", 320, 50, 10, withClass("banner")),
		el(1, "div", 180, 150, 10, withClass("ad-box")),
	)
	got := Rank(snap, DefaultPolicy())
	if !got.FellBack {
		t.Fatal("FellBack = false; want true")
	}
	if len(got.Slots) != 1 {
		t.Fatalf("len(Slots) = %d; want 1", len(got.Slots))
	}
	if got.Slots[0].Geometry.Width != 180 {
		t.Fatalf("fallback slot = %+v; want the 180x150 element", got.Slots[0])
	}
}

func TestRankEmpty(t *testing.T) {
	got := Rank(snapshot(), DefaultPolicy())
	if len(got.Slots) != 0 || got.Raw != 0 || got.FellBack {
		t.Fatalf("Rank(empty) = %+v", got)
	}
}

func TestRankNetworkIframeClaimsParent(t *testing.T) {
	snap := snapshot(
		el(0, "div", 300, 250, 100, withClass("ad-container")),
		el(1, "iframe", 300, 250, 100, withID("aswift_0"), withParent(0)),
	)
	got := Rank(snap, DefaultPolicy())
	if len(got.Slots) != 2 {
		t.Fatalf("len(Slots) = %d; want 2", len(got.Slots))
	}
	if got.Slots[0].TagName != "iframe" || got.Slots[0].Confidence != 130 {
		t.Fatalf("Slots[0] = %+v; want iframe at 130", got.Slots[0])
	}
	if got.Slots[1].Kind != KindGoogleAdIframe || got.Slots[1].Confidence != 125 {
		t.Fatalf("Slots[1] = %+v; want parent claimed as google-ad-iframe at 125", got.Slots[1])
	}
}

func TestRankBannerIframes(t *testing.T) {
	snap := snapshot(
		el(0, "div", 640, 360, 100),
		el(1, "iframe", 640, 360, 100, withSrc("https://www.youtube.com/embed/x"), withParent(0)),
		el(2, "section", 300, 250, 800),
		el(3, "iframe", 300, 250, 800, withSrc("https://cdn.mobon.net/serve"), withParent(2)),
		el(4, "div", 300, 100, 900),
		el(5, "iframe", 300, 100, 900, withSrc("https://widgets.example.org/frame"), withParent(4)),
	)
	got := Rank(snap, DefaultPolicy())

	conf := map[string]int{}
	for _, s := range got.Slots {
		conf[s.Selector] = s.Confidence
	}
	if _, ok := conf[`[data-adcap-slot="1"]`]; ok {
		t.Fatal("video embed should be excluded")
	}
	if c := conf[`[data-adcap-slot="3"]`]; c != 80+30+10 {
		t.Fatalf("hinted iframe confidence = %d; want 120", c)
	}
	if c := conf[`[data-adcap-slot="2"]`]; c != 75+30+10 {
		t.Fatalf("hinted parent confidence = %d; want 115", c)
	}
	if c := conf[`[data-adcap-slot="5"]`]; c != 60+15+10 {
		t.Fatalf("plain iframe confidence = %d; want 85", c)
	}
}

func TestRankIABSizeMatch(t *testing.T) {
	snap := snapshot(
		el(0, "div", 310, 240, 100, withMedia(1, 20)),
		el(1, "aside", 728, 90, 100, withMedia(1, 500)),
		el(2, "figure", 160, 600, 100),
		el(3, "span", 300, 250, 100, withMedia(1, 0)),
	)
	got := Rank(snap, DefaultPolicy())
	if len(got.Slots) != 1 {
		t.Fatalf("Slots = %+v; want only the media-bearing low-text div", got.Slots)
	}
	if got.Slots[0].Kind != KindIABSizeMatch || got.Slots[0].Confidence != 90 {
		t.Fatalf("Slots[0] = %+v; want iab-size-match at 90", got.Slots[0])
	}
}

func TestRankInvisibleElementStaysClaimed(t *testing.T) {
	snap := snapshot(
		el(0, "ins", 300, 250, 100, withClass("adsbygoogle ad-slot"), hidden()),
	)
	got := Rank(snap, DefaultPolicy())
	if got.Raw != 0 {
		t.Fatalf("Raw = %d; want 0 (hidden element claimed by first strategy and dropped)", got.Raw)
	}
}

func TestRankSkipsTinyElements(t *testing.T) {
	snap := snapshot(el(0, "div", 40, 300, 0, withClass("ad-slot")))
	if got := Rank(snap, DefaultPolicy()); got.Raw != 0 {
		t.Fatalf("Raw = %d; want 0", got.Raw)
	}
}

func TestPatternCSS(t *testing.T) {
	tests := []struct {
		p    Pattern
		want string
	}{
		{Pattern{Attr: "class", Match: "contains", Value: "ad-slot"}, `[class*="ad-slot"]`},
		{Pattern{Attr: "class", Match: "token", Value: "ads_area"}, `.ads_area`},
		{Pattern{Attr: "id", Match: "equals", Value: "ad_area"}, `#ad_area`},
		{Pattern{Attr: "data-ad-slot", Match: "exists"}, `[data-ad-slot]`},
	}
	for _, tt := range tests {
		if got := tt.p.CSS(); got != tt.want {
			t.Fatalf("CSS() = %s; want %s", got, tt.want)
		}
	}
}

func TestDataAttributePattern(t *testing.T) {
	e := el(0, "div", 300, 250, 0)
	e.Attrs = []string{"data-ad-unit"}
	got := Rank(snapshot(e), DefaultPolicy())
	if len(got.Slots) != 1 || got.Slots[0].Kind != KindGenericContainer {
		t.Fatalf("Slots = %+v; want one generic container", got.Slots)
	}
}

func TestPolicyMerge(t *testing.T) {
	p := DefaultPolicy().Merge(Policy{MinSlotWidth: 250, IABSizes: []Size{{Width: 320, Height: 100, Tolerance: 5}}})
	if p.MinSlotWidth != 250 || p.MinSlotHeight != 80 {
		t.Fatalf("merged min size = %vx%v", p.MinSlotWidth, p.MinSlotHeight)
	}
	if len(p.IABSizes) != 1 {
		t.Fatalf("len(IABSizes) = %d; want 1", len(p.IABSizes))
	}
	if len(p.ContainerPatterns) == 0 {
		t.Fatal("merge dropped container patterns")
	}
}
