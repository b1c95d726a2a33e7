package obstruction

import "testing"

var vp = Viewport{Width: 1000, Height: 800}

func cand(ref int, tag string, reasons ...Reason) Candidate {
	return Candidate{Ref: ref, Tag: tag, Reasons: reasons, Position: "static", Opacity: 1}
}

func decisionFor(t *testing.T, ds []Decision, ref int) Decision {
	t.Helper()
	for _, d := range ds {
		if d.Ref == ref {
			return d
		}
	}
	t.Fatalf("no decision for ref %d", ref)
	return Decision{}
}

func TestPlanPatternAndProtectList(t *testing.T) {
	banner := cand(0, "div", ReasonPattern)
	banner.Class = "cookie-consent"

	injected := cand(1, "div", ReasonPattern)
	injected.Injected = true

	ad := cand(2, "div", ReasonPattern)
	ad.AdMarkup = true

	header := cand(3, "header", ReasonPattern)

	content := cand(4, "div", ReasonPattern)
	content.ID = "main-content"
	content.ChildCount = 5

	longText := cand(5, "div", ReasonPattern)
	longText.TextLength = 2000

	fewChildren := cand(6, "div", ReasonPattern)
	fewChildren.Class = "popup-wrap"
	fewChildren.ChildCount = 1

	ds := Plan([]Candidate{banner, injected, ad, header, content, longText, fewChildren}, vp, DefaultPolicy())
	want := map[int]string{
		0: "pattern",
		1: "injected creative",
		2: "ad markup",
		3: "structural tag",
		4: "content container",
		5: "long text",
		6: "pattern",
	}
	for ref, reason := range want {
		d := decisionFor(t, ds, ref)
		if d.Reason != reason {
			t.Fatalf("ref %d reason = %s; want %s", ref, d.Reason, reason)
		}
		if d.Hide != (reason == "pattern") {
			t.Fatalf("ref %d Hide = %v", ref, d.Hide)
		}
	}
}

func TestPlanZIndex(t *testing.T) {
	high := cand(0, "div", ReasonZIndex)
	high.Position, high.ZIndex = "fixed", 2147483647
	low := cand(1, "div", ReasonZIndex)
	low.Position, low.ZIndex = "fixed", 100

	ds := Plan([]Candidate{high, low}, vp, DefaultPolicy())
	if !decisionFor(t, ds, 0).Hide {
		t.Fatal("high z-index fixed element should be hidden")
	}
	if decisionFor(t, ds, 1).Hide {
		t.Fatal("low z-index fixed element should stay")
	}
}

func TestPlanBackdrop(t *testing.T) {
	dim := cand(0, "div", ReasonBackdrop)
	dim.Position, dim.BgAlpha = "fixed", 0.6
	dim.Rect = Rect{Width: 1000, Height: 800}

	opaque := cand(1, "div", ReasonBackdrop)
	opaque.Position, opaque.BgAlpha = "absolute", 1
	opaque.Rect = Rect{Width: 1000, Height: 800}

	small := cand(2, "div", ReasonBackdrop)
	small.Position, small.Opacity = "fixed", 0.5
	small.Rect = Rect{Width: 500, Height: 400}

	ds := Plan([]Candidate{dim, opaque, small}, vp, DefaultPolicy())
	if !decisionFor(t, ds, 0).Hide {
		t.Fatal("semi-transparent full-viewport layer should be hidden")
	}
	if decisionFor(t, ds, 1).Hide {
		t.Fatal("opaque layer should stay")
	}
	if decisionFor(t, ds, 2).Hide {
		t.Fatal("small layer should stay")
	}
}

func TestPlanSkipsAlreadyHidden(t *testing.T) {
	c := cand(0, "div", ReasonPattern)
	c.Hidden = true
	d := decisionFor(t, Plan([]Candidate{c}, vp, DefaultPolicy()), 0)
	if d.Hide || d.Reason != "already hidden" {
		t.Fatalf("Plan() = %+v; want skip", d)
	}
}

func TestPolicyMerge(t *testing.T) {
	p := DefaultPolicy().Merge(Policy{HighZIndex: 500})
	if p.HighZIndex != 500 || p.MaxTextLength != 500 || len(p.Selectors) == 0 {
		t.Fatalf("Merge() = %+v", p)
	}
}
