package obstruction

import (
	"slices"
	"strings"
)

// Reason says why the collector reported a candidate.
type Reason string

const (
	ReasonPattern  Reason = "pattern"
	ReasonZIndex   Reason = "z-index"
	ReasonBackdrop Reason = "backdrop"
)

// Rect is a bounding box in viewport CSS pixels.
type Rect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Candidate is what the collector reports about one element.
type Candidate struct {
	Ref        int      `json:"ref"`
	Tag        string   `json:"tag"`
	ID         string   `json:"id,omitempty"`
	Class      string   `json:"class,omitempty"`
	Reasons    []Reason `json:"reasons"`
	Position   string   `json:"position"`
	ZIndex     int      `json:"z_index"`
	Opacity    float64  `json:"opacity"`
	BgAlpha    float64  `json:"bg_alpha"`
	Rect       Rect     `json:"rect"`
	TextLength int      `json:"text_length"`
	ChildCount int      `json:"child_count"`
	Hidden     bool     `json:"hidden"`
	Injected   bool     `json:"injected"`
	AdMarkup   bool     `json:"ad_markup"`
}

// Viewport is the layout viewport size.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Decision is the outcome for one candidate.
type Decision struct {
	Ref    int
	Hide   bool
	Reason string
}

func (c Candidate) has(r Reason) bool { return slices.Contains(c.Reasons, r) }

func (c Candidate) semiTransparent() bool {
	return (c.Opacity > 0 && c.Opacity < 1) || (c.BgAlpha > 0 && c.BgAlpha < 1)
}

// protected reports why c must be kept, or "" when it may be hidden.
func protected(c Candidate, p Policy) string {
	switch {
	case c.Injected:
		return "injected creative"
	case c.AdMarkup:
		return "ad markup"
	case slices.Contains(p.ProtectTags, strings.ToLower(c.Tag)):
		return "structural tag"
	case p.MaxTextLength > 0 && c.TextLength > p.MaxTextLength:
		return "long text"
	}
	if c.ChildCount >= p.ContentMinChildren {
		name := strings.ToLower(c.ID + " " + c.Class)
		for _, h := range p.ContentHints {
			if strings.Contains(name, h) {
				return "content container"
			}
		}
	}
	return ""
}

// Plan decides which candidates to hide. Candidates already hidden are
// skipped, so planning over a page that was just cleared hides nothing.
func Plan(cands []Candidate, vp Viewport, p Policy) []Decision {
	vpArea := vp.Width * vp.Height
	out := make([]Decision, 0, len(cands))
	for _, c := range cands {
		d := Decision{Ref: c.Ref}
		if c.Hidden {
			d.Reason = "already hidden"
			out = append(out, d)
			continue
		}
		if why := protected(c, p); why != "" {
			d.Reason = why
			out = append(out, d)
			continue
		}
		switch {
		case c.has(ReasonPattern):
			d.Hide, d.Reason = true, string(ReasonPattern)
		case c.has(ReasonZIndex) && c.Position == "fixed" && c.ZIndex > p.HighZIndex:
			d.Hide, d.Reason = true, string(ReasonZIndex)
		case c.has(ReasonBackdrop) && (c.Position == "fixed" || c.Position == "absolute") &&
			c.semiTransparent() && vpArea > 0 && c.Rect.Width*c.Rect.Height >= p.BackdropCoverage*vpArea:
			d.Hide, d.Reason = true, string(ReasonBackdrop)
		default:
			d.Reason = "no rule"
		}
		out = append(out, d)
	}
	return out
}
