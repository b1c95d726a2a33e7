package capture

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// plainText strips markup from page-supplied text, collapses whitespace and
// cuts the result to at most maxBytes on a rune boundary.
func plainText(s string, maxBytes int) string {
	clean := html.UnescapeString(strictPolicy.Sanitize(s))
	clean = strings.Join(strings.Fields(clean), " ")
	if maxBytes <= 0 || len(clean) <= maxBytes {
		return clean
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(clean[cut]) {
		cut--
	}
	return clean[:cut]
}
