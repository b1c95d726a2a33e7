package adslot

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// SnapshotFromHTML builds a Snapshot from static markup. Geometry comes from
// inline style (width, height, left, top, position, display, visibility,
// opacity) or width/height attributes; nothing is laid out, so pages that
// size slots through stylesheets yield zero-sized elements.
func SnapshotFromHTML(r io.Reader, policy Policy, viewportWidth, viewportHeight float64) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse html: %w", err)
	}

	picked := make(map[*html.Node]bool)
	add := func(s *goquery.Selection) {
		s.Each(func(_ int, el *goquery.Selection) {
			n := el.Get(0)
			if n == nil || n.Type != html.ElementNode || n.Data == "body" || n.Data == "html" {
				return
			}
			picked[n] = true
		})
	}

	add(doc.Find("ins"))
	doc.Find("iframe").Each(func(_ int, el *goquery.Selection) {
		add(el)
		add(el.Parent())
	})
	for _, sel := range policy.containerSelectors() {
		add(doc.Find(sel))
	}
	doc.Find(strings.Join(policy.SizeMatchTags, ",")).Each(func(_ int, el *goquery.Selection) {
		g := inlineGeometry(el)
		if g.Width < policy.SizeMatchMinW || g.Height < policy.SizeMatchMinH {
			return
		}
		for _, std := range policy.IABSizes {
			if std.matches(g.Width, g.Height) {
				add(el)
				return
			}
		}
	})

	index := make(map[*html.Node]int)
	var ordered []*goquery.Selection
	doc.Find("*").Each(func(_ int, el *goquery.Selection) {
		if n := el.Get(0); picked[n] {
			index[n] = len(ordered)
			ordered = append(ordered, el)
		}
	})

	attrs := policy.attrNames()
	snap := Snapshot{ViewportWidth: viewportWidth, ViewportHeight: viewportHeight}
	for i, el := range ordered {
		n := el.Get(0)
		parent := -1
		if n.Parent != nil {
			if p, ok := index[n.Parent]; ok {
				parent = p
			}
		}
		style := parseInlineStyle(el.AttrOr("style", ""))
		e := Element{
			Ref:        i,
			Parent:     parent,
			Tag:        n.Data,
			ID:         el.AttrOr("id", ""),
			Class:      el.AttrOr("class", ""),
			Src:        el.AttrOr("src", ""),
			Rect:       inlineGeometry(el),
			Position:   styleOr(style, "position", "static"),
			Display:    styleOr(style, "display", "block"),
			Visibility: styleOr(style, "visibility", "visible"),
			Opacity:    1,
			MediaCount: el.Find("img, iframe, canvas").Length(),
			TextLength: len(strings.TrimSpace(el.Text())),
		}
		if v, ok := style["opacity"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				e.Opacity = f
			}
		}
		for _, a := range attrs {
			if _, ok := el.Attr(a); ok {
				e.Attrs = append(e.Attrs, a)
			}
		}
		snap.Elements = append(snap.Elements, e)
	}
	return snap, nil
}

func parseInlineStyle(style string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func styleOr(style map[string]string, key, def string) string {
	if v, ok := style[key]; ok && v != "" {
		return v
	}
	return def
}

func px(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil {
		return 0
	}
	return f
}

func inlineGeometry(el *goquery.Selection) Geometry {
	style := parseInlineStyle(el.AttrOr("style", ""))
	g := Geometry{
		Width:  px(style["width"]),
		Height: px(style["height"]),
		X:      px(style["left"]),
		Y:      px(style["top"]),
	}
	if g.Width == 0 {
		g.Width = px(el.AttrOr("width", ""))
	}
	if g.Height == 0 {
		g.Height = px(el.AttrOr("height", ""))
	}
	return g
}
