package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

func newHistory(t *testing.T, store ports.KVStore, maxSize int) *HistoryManager {
	t.Helper()
	clk := newClock()
	h := NewHistoryManager(zerolog.Nop(), store, maxSize)
	h.Now = func() time.Time {
		clk.Advance(time.Second)
		return clk.Now()
	}
	return h
}

func cue(text string) string {
	return "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\n" + text + "\n\n"
}

func TestHistory_BoundAndMoveToFront(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, newStore(t), 10)

	for i := 0; i <= 10; i++ {
		_, err := h.Add(ctx, fmt.Sprintf("https://x/page-%d", i), "a.vtt", cue(fmt.Sprintf("line %d", i)), "")
		require.NoError(t, err)
	}

	items := h.Summary(ctx)
	require.Len(t, items, 10)
	assert.Equal(t, "https://x/page-10", items[0].PageURL)
	assert.Equal(t, "https://x/page-1", items[9].PageURL)
	for _, it := range items {
		assert.NotEqual(t, "https://x/page-0", it.PageURL)
	}

	before := items[5]
	again, err := h.Add(ctx, before.PageURL, "b.vtt", cue("again"), "")
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, again.ID)

	items = h.Summary(ctx)
	require.Len(t, items, 10)
	assert.Equal(t, before.PageURL, items[0].PageURL)
	assert.Equal(t, "b.vtt", items[0].SourceURL)
	seen := 0
	for _, it := range items {
		if it.PageURL == before.PageURL {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestHistory_GetRemoveClear(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	h := newHistory(t, store, 10)

	a, err := h.Add(ctx, "https://x/a", "a.vtt", cue("alpha"), "https://x/favicon.ico")
	require.NoError(t, err)
	b, err := h.Add(ctx, "https://x/b", "b.vtt", cue("beta"), "")
	require.NoError(t, err)

	got, ok := h.Get(ctx, a.ID)
	require.True(t, ok)
	assert.Equal(t, cue("alpha"), got.Content)
	assert.Equal(t, "https://x/favicon.ico", got.FaviconURL)

	assert.True(t, h.Remove(ctx, a.ID))
	assert.False(t, h.Remove(ctx, a.ID))
	_, ok = h.Get(ctx, a.ID)
	assert.False(t, ok)
	_, ok = h.Get(ctx, b.ID)
	assert.True(t, ok)

	h.Clear(ctx)
	assert.Empty(t, h.Summary(ctx))
	_, err = store.Get(ctx, domain.HistoryKey)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestHistory_RejectsEmptyInput(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, newStore(t), 10)

	_, err := h.Add(ctx, "https://x/a", "a.vtt", "", "")
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = h.Add(ctx, "", "a.vtt", cue("x"), "")
	assert.ErrorIs(t, err, ErrMissingPageURL)
	assert.Empty(t, h.Summary(ctx))
}

func TestHistory_PersistedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	h1 := newHistory(t, store, 10)
	item, err := h1.Add(ctx, "https://x/a", "a.vtt", cue("alpha"), "")
	require.NoError(t, err)

	h2 := newHistory(t, store, 10)
	got, ok := h2.Get(ctx, item.ID)
	require.True(t, ok)
	assert.Equal(t, item, got)
}

func TestHistory_StorageFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.fail.Store(true)

	h := newHistory(t, store, 10)
	item, err := h.Add(ctx, "https://x/a", "a.vtt", cue("alpha"), "")
	require.NoError(t, err)

	store.fail.Store(false)
	got, ok := h.Get(ctx, item.ID)
	require.True(t, ok)
	assert.Equal(t, item.PageURL, got.PageURL)
}

func TestHistory_SetMaxSizeTrims(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, newStore(t), 10)
	for i := 0; i < 5; i++ {
		_, err := h.Add(ctx, fmt.Sprintf("https://x/%d", i), "a.vtt", cue("x"), "")
		require.NoError(t, err)
	}

	h.SetMaxSize(ctx, 3)
	assert.Equal(t, 3, h.MaxSize())
	items := h.Summary(ctx)
	require.Len(t, items, 3)
	assert.Equal(t, "https://x/4", items[0].PageURL)

	h.SetMaxSize(ctx, 0)
	assert.Equal(t, DefaultHistoryMaxSize, h.MaxSize())
}

func TestTitle(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	content := cue(strings.Join(words[:10], " ")) + "2\n00:00:02.000 --> 00:00:04.000\n" + strings.Join(words[10:], " ") + "\n\n"

	title := Title(content, "https://x/a")
	assert.Equal(t, strings.Join(words[:25], " ")+"...", title)

	assert.Equal(t, "short line", Title(cue("short line"), "https://x/a"))
	assert.Equal(t, "https://x/a", Title("WEBVTT\n", "https://x/a"))
	// NFC: e + accent combinant devient é.
	assert.Equal(t, "caf\u00e9", Title(cue("cafe\u0301"), "https://x/a"))
}

func TestDetectLanguage(t *testing.T) {
	en := cue("The quick brown fox jumps over the lazy dog while the children are watching from the window of their house, and everyone agrees that it was the most beautiful thing they have ever seen in their whole life.")
	assert.Equal(t, "en", DetectLanguage(en))
	assert.Equal(t, "", DetectLanguage("WEBVTT\n"))
}
