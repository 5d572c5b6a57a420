package connector

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// plainText retire le balisage inline (<i>, <font>...) et décode les entités.
// bluemonday échappe sa sortie, d'où l'UnescapeString final.
func plainText(s string) string {
	s = html.UnescapeString(s)
	s = strictPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
