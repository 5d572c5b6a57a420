package connector

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
)

// TimedTextJSON décode les API "timed caption events" (fmt=json3):
//
//	{"events":[{"tStartMs":0,"dDurationMs":2000,"segs":[{"utf8":"Hello"}]}]}
type TimedTextJSON struct{}

func NewTimedTextJSON() *TimedTextJSON { return &TimedTextJSON{} }

type json3Doc struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	TStartMs    int64      `json:"tStartMs"`
	DDurationMs int64      `json:"dDurationMs"`
	AAppend     int        `json:"aAppend"`
	Segs        []json3Seg `json:"segs"`
}

type json3Seg struct {
	UTF8 string `json:"utf8"`
}

func (c *TimedTextJSON) Name() string     { return "timedtext-json3" }
func (c *TimedTextJSON) Structured() bool { return true }

func (c *TimedTextJSON) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.Contains(u.Path, "/timedtext") {
		return false
	}
	return strings.EqualFold(u.Query().Get("fmt"), "json3")
}

func (c *TimedTextJSON) Convert(raw []byte, _ string) (string, error) {
	var doc json3Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}

	events := make([]json3Event, 0, len(doc.Events))
	for _, ev := range doc.Events {
		// Les events de positionnement n'ont pas de segments.
		if len(ev.Segs) == 0 || ev.AAppend != 0 {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TStartMs < events[j].TStartMs
	})

	cues := make([]canon.Cue, 0, len(events))
	for _, ev := range events {
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		dur := ev.DDurationMs
		if dur < 0 {
			dur = 0
		}
		start := time.Duration(ev.TStartMs) * time.Millisecond
		cues = append(cues, canon.Cue{
			Start: start,
			End:   start + time.Duration(dur)*time.Millisecond,
			Text:  text,
		})
	}
	return canon.Render(cues), nil
}
