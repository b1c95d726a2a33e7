package capture

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

// PageProbe is a cheap summary of the current document used to recognise
// bot-challenge interstitials.
type PageProbe struct {
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	TextLength int      `json:"text_length"`
	LinkCount  int      `json:"link_count"`
	Markers    []string `json:"markers"`
}

// ChallengePatterns describe challenge pages.
type ChallengePatterns struct {
	Signatures []*regexp.Regexp
	// Markers are selectors present only on challenge pages.
	Markers []string
	// A page with at least this much text and this many links is treated as
	// real content whatever its signatures say.
	MinContentText  int
	MinContentLinks int
}

func DefaultChallengePatterns() ChallengePatterns {
	return ChallengePatterns{
		Signatures: []*regexp.Regexp{
			regexp.MustCompile(`(?i)just a moment`),
			regexp.MustCompile(`(?i)checking (if the site connection is secure|your browser)`),
			regexp.MustCompile(`(?i)attention required`),
			regexp.MustCompile(`(?i)cloudflare ray id`),
			regexp.MustCompile(`(?i)performance (&|&amp;) security by cloudflare`),
			regexp.MustCompile(`(?i)verify(ing)? you are (a )?human`),
			regexp.MustCompile(`(?i)why have i been blocked\?`),
			regexp.MustCompile(`(?i)enable javascript and cookies to continue`),
			regexp.MustCompile(`(?i)ddos protection by`),
			regexp.MustCompile(`(?i)hcaptcha`),
		},
		Markers: []string{
			"#challenge-form",
			"#challenge-running",
			"#cf-challenge-running",
			".cf-browser-verification",
			"#cf-wrapper",
			`iframe[src*="challenges.cloudflare.com"]`,
			`iframe[src*="hcaptcha.com"]`,
		},
		MinContentText:  1500,
		MinContentLinks: 15,
	}
}

// IsChallenge reports whether p looks like a challenge page: a known
// signature or marker together with the absence of real content.
func IsChallenge(p PageProbe, pats ChallengePatterns) bool {
	if p.TextLength >= pats.MinContentText && p.LinkCount >= pats.MinContentLinks {
		return false
	}
	if len(p.Markers) > 0 {
		return true
	}
	for _, re := range pats.Signatures {
		if re.MatchString(p.Title) || re.MatchString(p.Text) {
			return true
		}
	}
	return false
}

const jsProbe = `
var cfg = %s;
var body = document.body;
var text = body ? (body.innerText || '') : '';
var markers = cfg.markers.filter(function(sel) {
  try { return !!document.querySelector(sel); } catch (e) { return false; }
});
return JSON.stringify({ok: true, data: {
  title: document.title || '',
  text: text.slice(0, 2000),
  text_length: text.trim().length,
  link_count: document.querySelectorAll('a[href]').length,
  markers: markers
}});`

func (o *Orchestrator) probe(ctx context.Context, page cdpcontrol.Page) (PageProbe, error) {
	var p PageProbe
	err := page.Evaluate(ctx, script(jsProbe, map[string]any{"markers": o.challenge.Markers}), &p)
	return p, err
}

// waitChallenge polls while the page looks like a challenge. Timing out is
// not an error; the run proceeds with whatever loaded.
func (o *Orchestrator) waitChallenge(ctx context.Context, page cdpcontrol.Page, diag *Diagnostics) {
	p, err := o.probe(ctx, page)
	if err != nil {
		slog.Warn("challenge probe failed", "error", err)
		return
	}
	diag.PageTitle = plainText(p.Title, 200)
	if !IsChallenge(p, o.challenge) {
		return
	}
	diag.ChallengeDetected = true
	slog.Info("bot challenge detected, waiting", "title", diag.PageTitle, "markers", p.Markers)

	deadline := o.now().Add(o.policy.ChallengeMaxWait)
	for o.now().Before(deadline) {
		if err := o.sleep(ctx, o.policy.ChallengePoll); err != nil {
			return
		}
		p, err = o.probe(ctx, page)
		if err != nil {
			slog.Warn("challenge probe failed", "error", err)
			continue
		}
		if !IsChallenge(p, o.challenge) {
			diag.ChallengeCleared = true
			diag.PageTitle = plainText(p.Title, 200)
			slog.Info("bot challenge cleared", "title", diag.PageTitle)
			return
		}
	}
	slog.Warn("bot challenge still present after wait, continuing", "waited", o.policy.ChallengeMaxWait.Round(time.Second))
}
