package connector

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
)

// TimedTextXML décode les deux variantes XML de l'API timedtext:
//
//	<transcript><text start="1.2" dur="2.5">Hello</text></transcript>
//	<timedtext format="3"><body><p t="1200" d="2500">Hello<s>...</s></p></body></timedtext>
type TimedTextXML struct{}

func NewTimedTextXML() *TimedTextXML { return &TimedTextXML{} }

type xmlTranscript struct {
	XMLName xml.Name  `xml:"transcript"`
	Texts   []xmlText `xml:"text"`
}

type xmlText struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Body  string `xml:",chardata"`
}

type xmlTimedText struct {
	XMLName xml.Name `xml:"timedtext"`
	Body    struct {
		Paragraphs []xmlParagraph `xml:"p"`
	} `xml:"body"`
}

type xmlParagraph struct {
	T         string `xml:"t,attr"`
	D         string `xml:"d,attr"`
	Content   string `xml:",chardata"`
	Sentences []struct {
		Text string `xml:",chardata"`
	} `xml:"s"`
}

func (c *TimedTextXML) Name() string     { return "timedtext-xml" }
func (c *TimedTextXML) Structured() bool { return false }

func (c *TimedTextXML) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.Contains(u.Path, "/timedtext") {
		return false
	}
	switch strings.ToLower(u.Query().Get("fmt")) {
	case "", "srv1", "srv2", "srv3":
		return true
	}
	return false
}

func (c *TimedTextXML) Convert(raw []byte, _ string) (string, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case bytes.Contains(raw, []byte("<transcript")):
		return c.convertTranscript(raw)
	case bytes.Contains(raw, []byte("<timedtext")):
		return c.convertTimedText(raw)
	}
	return "", fmt.Errorf("unknown timedtext xml root")
}

func (c *TimedTextXML) convertTranscript(raw []byte) (string, error) {
	var doc xmlTranscript
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	cues := make([]canon.Cue, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		start, err := strconv.ParseFloat(t.Start, 64)
		if err != nil {
			continue
		}
		dur, _ := strconv.ParseFloat(t.Dur, 64)
		text := plainText(t.Body)
		if text == "" {
			continue
		}
		s := time.Duration(start * float64(time.Second)).Round(time.Millisecond)
		cues = append(cues, canon.Cue{
			Start: s,
			End:   s + time.Duration(dur*float64(time.Second)).Round(time.Millisecond),
			Text:  text,
		})
	}
	return canon.Render(cues), nil
}

func (c *TimedTextXML) convertTimedText(raw []byte) (string, error) {
	var doc xmlTimedText
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	cues := make([]canon.Cue, 0, len(doc.Body.Paragraphs))
	for _, p := range doc.Body.Paragraphs {
		startMs, err := strconv.ParseInt(p.T, 10, 64)
		if err != nil {
			continue
		}
		durMs, _ := strconv.ParseInt(p.D, 10, 64)

		body := p.Content
		if len(p.Sentences) > 0 {
			var sb strings.Builder
			for _, s := range p.Sentences {
				sb.WriteString(s.Text)
			}
			body = sb.String()
		}
		text := plainText(body)
		if text == "" {
			continue
		}
		start := time.Duration(startMs) * time.Millisecond
		cues = append(cues, canon.Cue{
			Start: start,
			End:   start + time.Duration(durMs)*time.Millisecond,
			Text:  text,
		})
	}
	return canon.Render(cues), nil
}
