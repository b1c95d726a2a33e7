package adslot

import (
	"math"
	"slices"
	"sort"
	"strings"
)

const (
	areaLarge      = 200 * 200
	areaLeaderBd   = 600 * 80
	areaMedium     = 200 * 80
	fixedPenalty   = -40
	viewportBonus  = 10
	offscreenMalus = -5
)

// Score applies the uniform geometric adjustment to a base confidence.
func Score(base int, rect Geometry, fixed bool, viewportHeight float64) int {
	score := base
	switch area := rect.Area(); {
	case area >= areaLarge:
		score += 30
	case area >= areaLeaderBd:
		score += 25
	case area >= areaMedium:
		score += 15
	default:
		score -= 20
	}
	if fixed {
		score += fixedPenalty
	}
	if viewportHeight <= 0 {
		viewportHeight = 900
	}
	if rect.Y >= 0 && rect.Y < viewportHeight {
		score += viewportBonus
	} else {
		score += offscreenMalus
	}
	return score
}

type ranker struct {
	snap    Snapshot
	policy  Policy
	claimed map[int]bool
	raw     []DetectedSlot
}

// claim records a candidate. An element is claimed by the first strategy
// that reaches it, even when it is then dropped as too small or invisible.
func (r *ranker) claim(e *Element, kind Kind, base int) {
	if r.claimed[e.Ref] {
		return
	}
	r.claimed[e.Ref] = true

	if e.Rect.Width < r.policy.MinRawWidth || e.Rect.Height < r.policy.MinRawHeight {
		return
	}
	if !e.visible() {
		return
	}
	r.raw = append(r.raw, DetectedSlot{
		Selector: e.selector(),
		TagName:  e.Tag,
		Geometry: Geometry{
			Width:  math.Round(e.Rect.Width),
			Height: math.Round(e.Rect.Height),
			X:      math.Round(e.Rect.X),
			Y:      math.Round(e.Rect.Y),
		},
		Kind:       kind,
		Confidence: Score(base, e.Rect, e.fixed(), r.snap.ViewportHeight),
		IsFixed:    e.fixed(),
	})
}

func (r *ranker) parent(e *Element) *Element {
	if e.Parent < 0 || e.Parent >= len(r.snap.Elements) {
		return nil
	}
	return &r.snap.Elements[e.Parent]
}

func hasClassToken(class, token string) bool {
	return slices.Contains(strings.Fields(class), token)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// platformTags claims canonical <ins> ad tags.
func (r *ranker) platformTags() {
	for i := range r.snap.Elements {
		e := &r.snap.Elements[i]
		if e.Tag == "ins" && hasClassToken(e.Class, "adsbygoogle") {
			r.claim(e, KindGoogleAdTag, 100)
		}
	}
}

// networkIframes claims iframes served by known ad networks plus their
// wrapping container.
func (r *ranker) networkIframes() {
	for i := range r.snap.Elements {
		e := &r.snap.Elements[i]
		if e.Tag != "iframe" {
			continue
		}
		if !containsAny(e.ID, r.policy.NetworkIframeIDs) && !containsAny(e.Src, r.policy.NetworkIframeSrcs) {
			continue
		}
		r.claim(e, KindGoogleAdIframe, 90)
		if p := r.parent(e); p != nil {
			r.claim(p, KindGoogleAdIframe, 85)
		}
	}
}

// bannerIframes claims any banner-shaped iframe that is not a known content
// embed. Ad hints in src, id or class raise the base score.
func (r *ranker) bannerIframes() {
	for i := range r.snap.Elements {
		e := &r.snap.Elements[i]
		if e.Tag != "iframe" || r.claimed[e.Ref] {
			continue
		}
		if !r.policy.BannerIframe.contains(e.Rect.Width, e.Rect.Height) {
			continue
		}
		src := strings.ToLower(e.Src)
		if containsAny(src, r.policy.ContentHosts) {
			continue
		}
		id := strings.ToLower(e.ID)
		class := strings.ToLower(e.Class)
		hint := containsAny(src, r.policy.SrcHintTokens) ||
			containsAny(id, r.policy.IDHintTokens) ||
			containsAny(class, r.policy.ClassHintTokens)

		base, parentBase := 60, 55
		if hint {
			base, parentBase = 80, 75
		}
		r.claim(e, KindGenericContainer, base)
		if p := r.parent(e); p != nil && !r.claimed[p.Ref] {
			r.claim(p, KindGenericContainer, parentBase)
		}
	}
}

// containers claims elements matching the curated class/id patterns, one
// pattern at a time in policy order.
func (r *ranker) containers() {
	for _, pat := range r.policy.ContainerPatterns {
		for i := range r.snap.Elements {
			e := &r.snap.Elements[i]
			if pat.matchElement(e) {
				r.claim(e, KindGenericContainer, 70)
			}
		}
	}
}

// standardSizes claims media-bearing, low-text boxes that match an IAB size.
func (r *ranker) standardSizes() {
	for i := range r.snap.Elements {
		e := &r.snap.Elements[i]
		if !slices.Contains(r.policy.SizeMatchTags, e.Tag) {
			continue
		}
		if e.Rect.Width < r.policy.SizeMatchMinW || e.Rect.Height < r.policy.SizeMatchMinH {
			continue
		}
		for _, std := range r.policy.IABSizes {
			if !std.matches(e.Rect.Width, e.Rect.Height) {
				continue
			}
			if !r.claimed[e.Ref] && e.MediaCount > 0 && e.TextLength < r.policy.SizeMatchMaxText {
				r.claim(e, KindIABSizeMatch, 50)
			}
			break
		}
	}
}

// Rank runs every strategy over the snapshot and returns candidates in
// non-increasing confidence order after the minimum-size filter. When the
// filter removes everything, the largest raw candidate is returned alone.
func Rank(snap Snapshot, policy Policy) Ranking {
	r := &ranker{snap: snap, policy: policy, claimed: make(map[int]bool)}
	r.platformTags()
	r.networkIframes()
	r.bannerIframes()
	r.containers()
	r.standardSizes()

	sort.SliceStable(r.raw, func(i, j int) bool {
		return r.raw[i].Confidence > r.raw[j].Confidence
	})

	var kept []DetectedSlot
	for _, s := range r.raw {
		if s.Geometry.Width >= policy.MinSlotWidth && s.Geometry.Height >= policy.MinSlotHeight {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 && len(r.raw) > 0 {
		largest := r.raw[0]
		for _, s := range r.raw[1:] {
			if s.Geometry.Area() > largest.Geometry.Area() {
				largest = s
			}
		}
		return Ranking{Slots: []DetectedSlot{largest}, Raw: len(r.raw), FellBack: true}
	}
	return Ranking{Slots: kept, Raw: len(r.raw)}
}
