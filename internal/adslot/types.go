// Package adslot finds display-ad placements in a rendered page and ranks
// them by how likely they are to be a genuine, prominent ad slot.
package adslot

import (
	"slices"
	"strconv"
)

// SlotAttr is stamped on every collected element so a slot can be found
// again after detection returns.
const SlotAttr = "data-adcap-slot"

// Kind names the strategy that claimed a slot.
type Kind string

const (
	KindGoogleAdTag      Kind = "google-ad-tag"
	KindGoogleAdIframe   Kind = "google-ad-iframe"
	KindGenericContainer Kind = "generic-ad-container"
	KindIABSizeMatch     Kind = "iab-size-match"
)

// Geometry is a bounding box in viewport CSS pixels.
type Geometry struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func (g Geometry) Area() float64 { return g.Width * g.Height }

// DetectedSlot is one ranked candidate.
type DetectedSlot struct {
	Selector   string   `json:"selector"`
	TagName    string   `json:"tag_name"`
	Geometry   Geometry `json:"geometry"`
	Kind       Kind     `json:"kind"`
	Confidence int      `json:"confidence"`
	IsFixed    bool     `json:"is_fixed"`
}

// Element is what the collector reports about one DOM element.
type Element struct {
	Ref        int      `json:"ref"`
	Parent     int      `json:"parent"`
	Tag        string   `json:"tag"`
	ID         string   `json:"id,omitempty"`
	Class      string   `json:"class,omitempty"`
	Src        string   `json:"src,omitempty"`
	Attrs      []string `json:"attrs,omitempty"`
	Rect       Geometry `json:"rect"`
	Position   string   `json:"position,omitempty"`
	Display    string   `json:"display,omitempty"`
	Visibility string   `json:"visibility,omitempty"`
	Opacity    float64  `json:"opacity"`
	MediaCount int      `json:"media_count"`
	TextLength int      `json:"text_length"`
}

func (e *Element) hasAttr(name string) bool { return slices.Contains(e.Attrs, name) }

func (e *Element) visible() bool {
	return e.Display != "none" && e.Visibility != "hidden" && e.Opacity != 0
}

func (e *Element) fixed() bool { return e.Position == "fixed" || e.Position == "sticky" }

func (e *Element) selector() string {
	return "[" + SlotAttr + `="` + strconv.Itoa(e.Ref) + `"]`
}

// Snapshot is the serialized DOM state Rank works on. Elements are in
// document order; Parent is the index of the parent element in Elements or -1.
type Snapshot struct {
	ViewportWidth  float64   `json:"viewport_width"`
	ViewportHeight float64   `json:"viewport_height"`
	Elements       []Element `json:"elements"`
}

// Ranking is the result of one detection pass.
type Ranking struct {
	Slots []DetectedSlot
	// Raw counts candidates before the minimum-size filter.
	Raw int
	// FellBack is set when every candidate failed the size filter and the
	// largest raw candidate was returned instead.
	FellBack bool
}
