package adslot

import (
	"fmt"
	"strings"
)

// Size is a standard creative size with a per-axis tolerance in CSS px.
type Size struct {
	Width     float64 `json:"w" yaml:"width"`
	Height    float64 `json:"h" yaml:"height"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

func (s Size) matches(w, h float64) bool {
	return abs(w-s.Width) <= s.Tolerance && abs(h-s.Height) <= s.Tolerance
}

// Range is an inclusive width/height window.
type Range struct {
	MinWidth  float64 `yaml:"min_width"`
	MaxWidth  float64 `yaml:"max_width"`
	MinHeight float64 `yaml:"min_height"`
	MaxHeight float64 `yaml:"max_height"`
}

func (r Range) contains(w, h float64) bool {
	return w >= r.MinWidth && w <= r.MaxWidth && h >= r.MinHeight && h <= r.MaxHeight
}

// Pattern matches one attribute of an element.
//
//	Attr   "class", "id" or any attribute name
//	Match  "contains", "token", "equals" or "exists"
type Pattern struct {
	Attr  string `yaml:"attr"`
	Match string `yaml:"match"`
	Value string `yaml:"value"`
}

// CSS renders the pattern as a selector usable with querySelectorAll.
func (p Pattern) CSS() string {
	switch p.Match {
	case "token":
		if p.Attr == "class" {
			return "." + p.Value
		}
		return fmt.Sprintf(`[%s~=%q]`, p.Attr, p.Value)
	case "equals":
		if p.Attr == "id" {
			return "#" + p.Value
		}
		return fmt.Sprintf(`[%s=%q]`, p.Attr, p.Value)
	case "exists":
		return "[" + p.Attr + "]"
	default:
		return fmt.Sprintf(`[%s*=%q]`, p.Attr, p.Value)
	}
}

func (p Pattern) matchElement(e *Element) bool {
	var v string
	switch p.Attr {
	case "class":
		v = e.Class
	case "id":
		v = e.ID
	default:
		if p.Match == "exists" {
			return e.hasAttr(p.Attr)
		}
		return false
	}
	switch p.Match {
	case "token":
		for _, f := range strings.Fields(v) {
			if f == p.Value {
				return true
			}
		}
		return false
	case "equals":
		return v == p.Value
	case "exists":
		return v != ""
	default:
		return v != "" && strings.Contains(v, p.Value)
	}
}

// Policy holds every threshold the detector uses.
type Policy struct {
	MinSlotWidth  float64 `yaml:"min_slot_width"`
	MinSlotHeight float64 `yaml:"min_slot_height"`
	MinRawWidth   float64 `yaml:"min_raw_width"`
	MinRawHeight  float64 `yaml:"min_raw_height"`

	NetworkIframeIDs  []string `yaml:"network_iframe_ids"`
	NetworkIframeSrcs []string `yaml:"network_iframe_srcs"`

	BannerIframe    Range    `yaml:"banner_iframe"`
	ContentHosts    []string `yaml:"content_hosts"`
	SrcHintTokens   []string `yaml:"src_hint_tokens"`
	IDHintTokens    []string `yaml:"id_hint_tokens"`
	ClassHintTokens []string `yaml:"class_hint_tokens"`

	ContainerPatterns []Pattern `yaml:"container_patterns"`

	IABSizes          []Size   `yaml:"iab_sizes"`
	SizeMatchTags     []string `yaml:"size_match_tags"`
	SizeMatchMinW     float64  `yaml:"size_match_min_width"`
	SizeMatchMinH     float64  `yaml:"size_match_min_height"`
	SizeMatchMaxText  int      `yaml:"size_match_max_text"`
	LastResortBanners Range    `yaml:"last_resort_banners"`
}

func contains(attr, v string) Pattern { return Pattern{Attr: attr, Match: "contains", Value: v} }

// DefaultPolicy returns the tuned defaults.
func DefaultPolicy() Policy {
	var patterns []Pattern
	for _, v := range []string{
		"ad-slot", "adSlot", "ad_slot",
		"ad-banner", "adBanner", "ad_banner",
		"ad-container", "adContainer", "ad_container",
		"ad-wrapper", "adWrapper", "ad_wrapper",
		"ad-box", "adBox", "ad_box",
		"advertisement", "google-ad",
	} {
		patterns = append(patterns, contains("class", v))
	}
	for _, v := range []string{
		"ad-slot", "ad_slot", "adSlot",
		"ad-banner", "ad_banner", "adBanner",
		"ad-container", "ad_container",
		"advertisement",
	} {
		patterns = append(patterns, contains("id", v))
	}
	for _, a := range []string{"data-ad", "data-ad-slot", "data-ad-unit", "data-google-query-id"} {
		patterns = append(patterns, Pattern{Attr: a, Match: "exists"})
	}
	patterns = append(patterns,
		contains("class", "banner"), contains("id", "banner"),
		Pattern{Attr: "class", Match: "token", Value: "ads_area"},
		Pattern{Attr: "class", Match: "token", Value: "ad_area"},
		Pattern{Attr: "id", Match: "equals", Value: "ad_area"},
		Pattern{Attr: "class", Match: "token", Value: "ads-area"},
		Pattern{Attr: "class", Match: "token", Value: "ad-area"},
		Pattern{Attr: "id", Match: "equals", Value: "ad-area"},
		contains("id", "div-gpt-ad"),
		contains("class", "zc-banner"), contains("class", "zdk"),
		contains("class", "mobon"), contains("class", "cauly"), contains("class", "dable"),
		contains("class", "ad_content"), contains("class", "adContent"),
		contains("class", "sponsor"), contains("id", "sponsor"),
		contains("class", "commercial"), contains("id", "commercial"),
	)

	return Policy{
		MinSlotWidth:      200,
		MinSlotHeight:     80,
		MinRawWidth:       50,
		MinRawHeight:      20,
		NetworkIframeIDs:  []string{"google_ads", "aswift_"},
		NetworkIframeSrcs: []string{"doubleclick.net", "googlesyndication"},
		BannerIframe:      Range{MinWidth: 200, MaxWidth: 1200, MinHeight: 50, MaxHeight: 700},
		ContentHosts:      []string{"youtube.com", "vimeo.com", "tv.naver.com", "play.naver.com"},
		SrcHintTokens:     []string{"ad", "banner", "mobon", "cauly", "dable", "criteo"},
		IDHintTokens:      []string{"ad"},
		ClassHintTokens:   []string{"ad", "banner"},
		ContainerPatterns: patterns,
		IABSizes: []Size{
			{300, 250, 30}, {336, 280, 30}, {728, 90, 30}, {970, 250, 30},
			{970, 90, 30}, {160, 600, 30}, {120, 600, 30}, {250, 250, 20},
		},
		SizeMatchTags:     []string{"div", "section", "aside", "figure"},
		SizeMatchMinW:     100,
		SizeMatchMinH:     30,
		SizeMatchMaxText:  200,
		LastResortBanners: Range{MinWidth: 200, MaxWidth: 1200, MinHeight: 50, MaxHeight: 700},
	}
}

// Merge overlays the non-zero fields of o onto p.
func (p Policy) Merge(o Policy) Policy {
	if o.MinSlotWidth > 0 {
		p.MinSlotWidth = o.MinSlotWidth
	}
	if o.MinSlotHeight > 0 {
		p.MinSlotHeight = o.MinSlotHeight
	}
	if o.MinRawWidth > 0 {
		p.MinRawWidth = o.MinRawWidth
	}
	if o.MinRawHeight > 0 {
		p.MinRawHeight = o.MinRawHeight
	}
	if len(o.NetworkIframeIDs) > 0 {
		p.NetworkIframeIDs = o.NetworkIframeIDs
	}
	if len(o.NetworkIframeSrcs) > 0 {
		p.NetworkIframeSrcs = o.NetworkIframeSrcs
	}
	if o.BannerIframe != (Range{}) {
		p.BannerIframe = o.BannerIframe
	}
	if len(o.ContentHosts) > 0 {
		p.ContentHosts = o.ContentHosts
	}
	if len(o.SrcHintTokens) > 0 {
		p.SrcHintTokens = o.SrcHintTokens
	}
	if len(o.IDHintTokens) > 0 {
		p.IDHintTokens = o.IDHintTokens
	}
	if len(o.ClassHintTokens) > 0 {
		p.ClassHintTokens = o.ClassHintTokens
	}
	if len(o.ContainerPatterns) > 0 {
		p.ContainerPatterns = o.ContainerPatterns
	}
	if len(o.IABSizes) > 0 {
		p.IABSizes = o.IABSizes
	}
	if len(o.SizeMatchTags) > 0 {
		p.SizeMatchTags = o.SizeMatchTags
	}
	if o.SizeMatchMinW > 0 {
		p.SizeMatchMinW = o.SizeMatchMinW
	}
	if o.SizeMatchMinH > 0 {
		p.SizeMatchMinH = o.SizeMatchMinH
	}
	if o.SizeMatchMaxText > 0 {
		p.SizeMatchMaxText = o.SizeMatchMaxText
	}
	if o.LastResortBanners != (Range{}) {
		p.LastResortBanners = o.LastResortBanners
	}
	return p
}

// containerSelectors returns the CSS form of every container pattern.
func (p Policy) containerSelectors() []string {
	out := make([]string, 0, len(p.ContainerPatterns))
	for _, pat := range p.ContainerPatterns {
		out = append(out, pat.CSS())
	}
	return out
}

// attrNames lists the non class/id attributes the patterns test for.
func (p Policy) attrNames() []string {
	var out []string
	for _, pat := range p.ContainerPatterns {
		if pat.Attr != "class" && pat.Attr != "id" {
			out = append(out, pat.Attr)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
