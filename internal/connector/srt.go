package connector

import (
	"bufio"
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
)

var srtTimeRe = regexp.MustCompile(`(\d{1,2}:\d{2}:\d{2}[,.]\d{1,3})\s*-->\s*(\d{1,2}:\d{2}:\d{2}[,.]\d{1,3})`)

// SRT convertit un fichier SubRip (virgule avant les millisecondes, pas d'en-tête).
type SRT struct{}

func NewSRT() *SRT { return &SRT{} }

func (c *SRT) Name() string     { return "srt" }
func (c *SRT) Structured() bool { return false }

func (c *SRT) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.HasSuffix(strings.ToLower(u.Path), ".srt") {
		return true
	}
	q := u.Query()
	return strings.EqualFold(q.Get("fmt"), "srt") || strings.EqualFold(q.Get("format"), "srt")
}

func (c *SRT) Convert(raw []byte, _ string) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var cues []canon.Cue
	var current *canon.Cue
	var text []string

	flush := func() {
		if current != nil {
			if t := plainText(strings.Join(text, "\n")); t != "" {
				current.Text = t
				cues = append(cues, *current)
			}
		}
		current = nil
		text = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := srtTimeRe.FindStringSubmatch(line); m != nil {
			flush()
			start, err1 := canon.ParseTimestamp(m[1])
			end, err2 := canon.ParseTimestamp(m[2])
			if err1 != nil || err2 != nil {
				continue
			}
			current = &canon.Cue{Start: start, End: end}
			continue
		}
		if line == "" {
			flush()
			continue
		}
		if current != nil {
			text = append(text, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return canon.Render(cues), nil
}
