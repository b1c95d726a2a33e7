package obstruction

// Policy controls which candidates are hidden.
type Policy struct {
	// Selectors match cookie/consent banners, modals, paywalls and
	// app-install banners.
	Selectors []string `yaml:"selectors"`
	// ProtectTags are layout-structural tags that are never hidden.
	ProtectTags []string `yaml:"protect_tags"`
	// ContentHints are id/class substrings naming real content areas.
	ContentHints       []string `yaml:"content_hints"`
	ContentMinChildren int      `yaml:"content_min_children"`
	// MaxTextLength is the text size above which an element counts as content.
	MaxTextLength int `yaml:"max_text_length"`
	// HighZIndex hides fixed elements stacked above it.
	HighZIndex int `yaml:"high_z_index"`
	// BackdropCoverage is the fraction of the viewport a semi-transparent
	// fixed or absolute layer must cover to be treated as a dim layer.
	BackdropCoverage float64 `yaml:"backdrop_coverage"`
}

func DefaultPolicy() Policy {
	return Policy{
		Selectors: []string{
			`[class*="cookie"]`, `[id*="cookie"]`,
			`[class*="consent"]`, `[id*="consent"]`,
			`[class*="gdpr"]`, `[id*="gdpr"]`,
			`.cc-banner`, `.cc-window`,
			`[class*="privacy"]`, `[id*="privacy"]`,
			`[class*="popup"]`, `[id*="popup"]`,
			`[class*="modal"]`, `[class*="overlay"]`,
			`[class*="paywall"]`, `[id*="paywall"]`,
			`[class*="subscribe-wall"]`, `[class*="subscription-modal"]`,
			`[class*="layer_popup"]`, `[class*="layerPopup"]`,
			`[class*="dim_layer"]`, `[class*="dimLayer"]`, `[id*="layer"]`,
			`.news_alert_wrap`, `#news_alert`,
			`[class*="floating"]`,
			`[class*="app-banner"]`, `[class*="appBanner"]`, `[class*="app_banner"]`,
			`[class*="smart-banner"]`, `[class*="smartBanner"]`,
		},
		ProtectTags:        []string{"html", "body", "header", "nav", "main", "article", "section", "footer", "aside"},
		ContentHints:       []string{"content", "article", "main", "post", "news", "story", "container", "wrap"},
		ContentMinChildren: 3,
		MaxTextLength:      500,
		HighZIndex:         9999,
		BackdropCoverage:   0.8,
	}
}

// Merge overlays the non-zero fields of o onto p.
func (p Policy) Merge(o Policy) Policy {
	if len(o.Selectors) > 0 {
		p.Selectors = o.Selectors
	}
	if len(o.ProtectTags) > 0 {
		p.ProtectTags = o.ProtectTags
	}
	if len(o.ContentHints) > 0 {
		p.ContentHints = o.ContentHints
	}
	if o.ContentMinChildren > 0 {
		p.ContentMinChildren = o.ContentMinChildren
	}
	if o.MaxTextLength > 0 {
		p.MaxTextLength = o.MaxTextLength
	}
	if o.HighZIndex > 0 {
		p.HighZIndex = o.HighZIndex
	}
	if o.BackdropCoverage > 0 {
		p.BackdropCoverage = o.BackdropCoverage
	}
	return p
}
