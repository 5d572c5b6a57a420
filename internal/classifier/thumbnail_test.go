package classifier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func spriteDoc(n int, withIndex bool) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i := 0; i < n; i++ {
		if withIndex {
			fmt.Fprintf(&sb, "%d\n", i+1)
		}
		fmt.Fprintf(&sb, "00:00:%02d.000 --> 00:00:%02d.000\n", i*5, i*5+5)
		fmt.Fprintf(&sb, "https://cdn.example/sb/M0.jpg#xywh=%d,0,160,90\n\n", i*160)
	}
	return sb.String()
}

func TestIsThumbnailTrack(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"six sprite lines", spriteDoc(6, false), true},
		{"six sprite lines with indexes", spriteDoc(6, true), true},
		{"five sprite lines is below threshold", spriteDoc(5, false), false},
		{"sprites plus one dialogue line", spriteDoc(6, false) + "00:01:00.000 --> 00:01:02.000\nHello there\n", false},
		{"regular dialogue", "WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nHello\n", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsThumbnailTrack(tc.doc))
		})
	}
}

func TestIsThumbnailTrack_OnlyScansFirstLines(t *testing.T) {
	// La ligne de dialogue au-delà des 100 premières lignes n'est pas vue.
	doc := spriteDoc(40, false) + "00:10:00.000 --> 00:10:02.000\nLate dialogue\n"
	st := Analyze(doc)
	assert.Equal(t, 100, st.Scanned)
	assert.Equal(t, 0, st.Text)
	assert.True(t, IsThumbnailTrack(doc))
}

func TestAnalyze_CountsTimestamps(t *testing.T) {
	st := Analyze(spriteDoc(3, false))
	assert.Equal(t, 3, st.Sprites)
	assert.Equal(t, 3, st.Timestamps)
}
