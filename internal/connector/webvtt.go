package connector

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
)

var (
	// Endpoints qui "ressemblent" à des sous-titres.
	subtitlePathRe = regexp.MustCompile(`(?i)(\.vtt|\.webvtt)$|/(subtitles?|captions?|texttracks?|timedtext)(/|$)`)

	// <00:00:01.234> : timing par mot (sous-titres auto-générés).
	inlineTimingRe = regexp.MustCompile(`<\d{1,2}:\d{2}(?::\d{2})?\.\d{3}>`)
	// <c>, <c.colorE5E5E5>, </c> : balises de classe associées.
	classTagRe = regexp.MustCompile(`</?c(\.[\w.-]+)?>`)
)

// WebVTT est le fallback générique: le contenu est déjà au format canonique,
// seul un nettoyage léger est appliqué.
type WebVTT struct{}

func NewWebVTT() *WebVTT { return &WebVTT{} }

func (c *WebVTT) Name() string     { return "webvtt" }
func (c *WebVTT) Structured() bool { return false }

func (c *WebVTT) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if subtitlePathRe.MatchString(u.Path) {
		return true
	}
	q := u.Query()
	for _, key := range []string{"fmt", "format"} {
		switch strings.ToLower(q.Get(key)) {
		case "vtt", "webvtt":
			return true
		}
	}
	return false
}

func (c *WebVTT) Convert(raw []byte, _ string) (string, error) {
	text := strings.TrimPrefix(string(raw), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = inlineTimingRe.ReplaceAllString(text, "")
	text = classTagRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if canon.IsTimingLine(line) {
			if normalized, ok := canon.NormalizeTimingLine(line); ok {
				lines[i] = normalized
			}
			continue
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	if !strings.HasPrefix(strings.TrimSpace(text), canon.Header) {
		text = canon.Header + "\n\n" + strings.TrimLeft(text, "\n")
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text, nil
}
