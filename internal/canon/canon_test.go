package canon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{2 * time.Second, "00:00:02.000"},
		{61*time.Minute + 1*time.Second + 5*time.Millisecond, "01:01:01.005"},
		{123 * time.Hour, "123:00:00.000"},
		{-time.Second, "00:00:00.000"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatTimestamp(tc.in))
	}
}

func TestParseTimestamp(t *testing.T) {
	d, err := ParseTimestamp("01:02:03,456")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second+456*time.Millisecond, d)

	d, err = ParseTimestamp("02:03.4")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+3*time.Second+400*time.Millisecond, d)

	_, err = ParseTimestamp("nope")
	assert.Error(t, err)
}

func TestNormalizeTimingLine_KeepsSettings(t *testing.T) {
	got, ok := NormalizeTimingLine("00:01.000 --> 00:02.500 align:start position:0%")
	require.True(t, ok)
	assert.Equal(t, "00:00:01.000 --> 00:00:02.500 align:start position:0%", got)

	_, ok = NormalizeTimingLine("Hello")
	assert.False(t, ok)
}

func TestRenderParse(t *testing.T) {
	cues := []Cue{
		{Start: 0, End: 2 * time.Second, Text: "Hello"},
		{Start: 2 * time.Second, End: 4 * time.Second, Text: "two\nlines"},
	}
	doc := Render(cues)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\nHello\n\n2\n00:00:02.000 --> 00:00:04.000\ntwo\nlines\n\n", doc)

	parsed := Parse(doc)
	require.Len(t, parsed, 2)
	assert.Equal(t, "two\nlines", parsed[1].Text)
	assert.Equal(t, 2*time.Second, parsed[1].Start)
	assert.True(t, HasCues(doc))
	assert.False(t, HasCues(Empty()))
	assert.Equal(t, []string{"Hello", "two", "lines"}, DialogueLines(doc))
}
