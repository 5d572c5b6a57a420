package connector

import (
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
)

const json3URL = "https://www.youtube.com/api/timedtext?v=abc&lang=en&fmt=json3"

func TestRegistry_ResolveOrder(t *testing.T) {
	r := DefaultRegistry(zerolog.Nop())

	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{json3URL, "timedtext-json3", true},
		{"https://www.youtube.com/api/timedtext?v=abc&lang=en", "timedtext-xml", true},
		{"https://www.youtube.com/api/timedtext?v=abc&fmt=srv3", "timedtext-xml", true},
		{"https://www.youtube.com/api/timedtext?v=abc&fmt=vtt", "webvtt", true},
		{"https://cdn.example.com/media/ep1.en.srt", "srt", true},
		{"https://cdn.example.com/media/ep1.en.vtt?token=1", "webvtt", true},
		{"https://player.example.com/captions/123", "webvtt", true},
		{"https://cdn.example.com/media/ep1.mp4", "", false},
	}
	for _, tc := range tests {
		c, ok := r.Resolve(tc.url)
		require.Equal(t, tc.ok, ok, tc.url)
		if ok {
			assert.Equal(t, tc.want, c.Name(), tc.url)
		}
	}
}

func TestTimedTextJSON_SingleEvent(t *testing.T) {
	raw := []byte(`{"events":[{"tStartMs":0,"dDurationMs":2000,"segs":[{"utf8":"Hello"}]}]}`)
	out, err := NewTimedTextJSON().Convert(raw, json3URL)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\nHello\n\n", out)
}

func TestTimedTextJSON_MonotonicTimestamps(t *testing.T) {
	raw := []byte(`{"wireMagic":"pb3","events":[
		{"tStartMs":0,"dDurationMs":5000,"id":1,"wpWinPosId":1},
		{"tStartMs":3723004,"dDurationMs":1500,"segs":[{"utf8":"later"}]},
		{"tStartMs":1200,"dDurationMs":2300,"segs":[{"utf8":"Hel"},{"utf8":"lo "},{"utf8":"world"}]},
		{"tStartMs":1500,"aAppend":1,"segs":[{"utf8":"\n"}]},
		{"tStartMs":4000,"dDurationMs":100,"segs":[{"utf8":"   "}]}
	]}`)
	out, err := NewTimedTextJSON().Convert(raw, json3URL)
	require.NoError(t, err)

	cues := canon.Parse(out)
	require.Len(t, cues, 2)
	assert.Equal(t, "Hello world", cues[0].Text)
	assert.Equal(t, "later", cues[1].Text)

	timing := regexp.MustCompile(`^\d{2,}:\d{2}:\d{2}\.\d{3} --> \d{2,}:\d{2}:\d{2}\.\d{3}$`)
	for i, c := range cues {
		if i > 0 {
			assert.GreaterOrEqual(t, c.Start, cues[i-1].Start)
		}
		assert.Regexp(t, timing, canon.TimingLine(c.Start, c.End))
	}
	assert.Contains(t, out, "01:02:03.004 --> 01:02:04.504")
}

func TestRegistry_MalformedJSONDegradesToHeader(t *testing.T) {
	r := DefaultRegistry(zerolog.Nop())
	c, ok := r.Resolve(json3URL)
	require.True(t, ok)

	out := r.Convert(c, []byte(`{"events":[{"tStartMs":`), json3URL)
	assert.Equal(t, canon.Empty(), out)

	// JSON valide mais de mauvaise forme: erreur de décodage, même repli.
	out = r.Convert(c, []byte(`{"events":"nope"}`), json3URL)
	assert.Equal(t, canon.Empty(), out)
}

func TestWebVTT_StripsInlineTimingTags(t *testing.T) {
	raw := "WEBVTT\nKind: captions\nLanguage: en\n\n" +
		"00:00.000 --> 00:02.500 align:start position:0%\n" +
		"hello<00:00:00.480><c> there</c><00:00:00.960><c.colorE5E5E5> friend</c>\n"
	out, err := NewWebVTT().Convert([]byte(raw), "https://x/sub.vtt")
	require.NoError(t, err)

	assert.Contains(t, out, "00:00:00.000 --> 00:00:02.500 align:start position:0%")
	assert.Contains(t, out, "hello there friend")
	assert.NotContains(t, out, "<c>")
	assert.NotContains(t, out, "<00:00:00.480>")
}

func TestWebVTT_AddsMissingHeader(t *testing.T) {
	out, err := NewWebVTT().Convert([]byte("1\n00:00:01.000 --> 00:00:02.000\nHi"), "https://x/captions/1")
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.000\nHi\n", out)
}

func TestSRT_Convert(t *testing.T) {
	raw := []byte("1\r\n00:00:01,000 --> 00:00:02,500\r\n<i>Hello</i> &amp; welcome\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,000\r\nWorld\r\n")
	out, err := NewSRT().Convert(raw, "https://x/ep.srt")
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.500\nHello & welcome\n\n2\n00:00:03.000 --> 00:00:04.000\nWorld\n\n", out)
}

func TestTimedTextXML_Transcript(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="utf-8" ?><transcript>` +
		`<text start="0.5" dur="1.25">it&amp;#39;s fine</text>` +
		`<text start="2" dur="1">second</text></transcript>`)
	out, err := NewTimedTextXML().Convert(raw, "https://x/api/timedtext?v=1")
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:00.500 --> 00:00:01.750\nit's fine\n\n2\n00:00:02.000 --> 00:00:03.000\nsecond\n\n", out)
}

func TestTimedTextXML_Format3(t *testing.T) {
	raw := []byte(`<timedtext format="3"><body>` +
		`<p t="1000" d="1500">plain</p>` +
		`<p t="3000" d="800"><s t="0">word</s><s t="200"> by word</s></p>` +
		`</body></timedtext>`)
	out, err := NewTimedTextXML().Convert(raw, "https://x/api/timedtext?v=1&fmt=srv3")
	require.NoError(t, err)

	cues := canon.Parse(out)
	require.Len(t, cues, 2)
	assert.Equal(t, "plain", cues[0].Text)
	assert.Equal(t, "word by word", cues[1].Text)
}
