package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/subcapture/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

const sampleContent = "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\nHello there\n\n"

// clock est une horloge manuelle partagée par les tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errStorage = errors.New("storage unavailable")

// flakyStore échoue sur demande, pour vérifier le repli mémoire.
type flakyStore struct {
	ports.KVStore
	fail atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.fail.Load() {
		return nil, errStorage
	}
	return f.KVStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if f.fail.Load() {
		return errStorage
	}
	return f.KVStore.Set(ctx, key, value)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.fail.Load() {
		return errStorage
	}
	return f.KVStore.Delete(ctx, key)
}

func (f *flakyStore) DeleteIf(ctx context.Context, key string, expected []byte) (bool, error) {
	if f.fail.Load() {
		return false, errStorage
	}
	return f.KVStore.DeleteIf(ctx, key, expected)
}

func (f *flakyStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if f.fail.Load() {
		return nil, errStorage
	}
	return f.KVStore.Keys(ctx, prefix)
}

func newStore(t *testing.T) *flakyStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &flakyStore{KVStore: sqlite.NewKVStore(db.SQL)}
}

func newCache(t *testing.T) (*CacheManager, *flakyStore, *clock) {
	t.Helper()
	store := newStore(t)
	clk := newClock()
	c := NewCacheManager(zerolog.Nop(), store, DefaultCacheTTL)
	c.Now = clk.Now
	return c, store, clk
}

func TestCache_RoundTripAndDurablePromotion(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	outcome, err := c.Store(ctx, 5, "a.vtt", sampleContent, "https://x/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, StoreCreated, outcome)

	e, ok := c.Get(ctx, 5, "")
	require.True(t, ok)
	assert.Equal(t, sampleContent, e.Content)
	assert.Equal(t, "a.vtt", e.SourceURL)

	// Autre onglet, même page: lecture durable puis promotion en mémoire.
	_, inMemory := c.memory(6)
	require.False(t, inMemory)
	e, ok = c.Get(ctx, 6, "https://x/watch?v=1")
	require.True(t, ok)
	assert.Equal(t, sampleContent, e.Content)
	assert.Equal(t, domain.ShortHash("a.vtt"), e.SourceURLHash)

	promoted, inMemory := c.memory(6)
	require.True(t, inMemory)
	assert.Equal(t, sampleContent, promoted.Content)
	assert.True(t, c.Has(ctx, 6, ""))
}

func TestCache_StoreOutcomes(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	_, err := c.Store(ctx, 1, "a.vtt", "   ", "https://x/watch")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.False(t, c.Has(ctx, 1, ""))

	out, _ := c.Store(ctx, 1, "a.vtt", sampleContent, "https://x/watch")
	assert.Equal(t, StoreCreated, out)
	out, _ = c.Store(ctx, 1, "a.vtt", sampleContent, "https://x/watch")
	assert.Equal(t, StoreRefreshed, out)
	out, _ = c.Store(ctx, 1, "b.vtt", sampleContent, "https://x/watch")
	assert.Equal(t, StoreSuperseded, out)

	e, ok := c.Get(ctx, 1, "")
	require.True(t, ok)
	assert.Equal(t, "b.vtt", e.SourceURL)
}

func TestCache_ExpiredDurableEntryIsDeletedOnRead(t *testing.T) {
	ctx := context.Background()
	c, store, clk := newCache(t)

	_, err := c.Store(ctx, 5, "a.vtt", sampleContent, "https://x/watch?v=1")
	require.NoError(t, err)
	c.Clear(5)

	clk.Advance(7*24*time.Hour + time.Minute)

	_, ok := c.Get(ctx, 6, "https://x/watch?v=1")
	assert.False(t, ok)
	_, err = store.Get(ctx, domain.PageKey("https://x/watch?v=1"))
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCache_ClearKeepsDurableEntry(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	_, err := c.Store(ctx, 5, "a.vtt", sampleContent, "https://x/watch")
	require.NoError(t, err)
	c.Clear(5)

	assert.False(t, c.Has(ctx, 5, ""))
	assert.True(t, c.Has(ctx, 5, "https://x/watch"))

	require.NoError(t, c.Purge(ctx, "https://x/watch"))
	c.Clear(5)
	assert.False(t, c.Has(ctx, 5, "https://x/watch"))
}

func TestCache_PageKeyIgnoresQueryString(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	_, err := c.Store(ctx, 1, "a.vtt", sampleContent, "https://x/watch?v=1#t=30")
	require.NoError(t, err)
	assert.True(t, c.Has(ctx, 2, "https://x/watch?v=2"))
}

func TestCache_StorageFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCache(t)
	store.fail.Store(true)

	outcome, err := c.Store(ctx, 5, "a.vtt", sampleContent, "https://x/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, StoreCreated, outcome)

	e, ok := c.Get(ctx, 5, "https://x/watch?v=1")
	require.True(t, ok)
	assert.Equal(t, sampleContent, e.Content)

	_, ok = c.Get(ctx, 6, "https://x/watch?v=1")
	assert.False(t, ok)
	assert.False(t, c.AutoLoadForTab(ctx, 7, "https://x/watch?v=1"))
}

func TestCache_AutoLoadForTab(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	_, err := c.Store(ctx, 1, "a.vtt", sampleContent, "https://x/watch?v=1")
	require.NoError(t, err)

	assert.True(t, c.AutoLoadForTab(ctx, 2, "https://x/watch?v=1"))
	_, ok := c.memory(2)
	assert.True(t, ok)
	// Idempotent.
	assert.True(t, c.AutoLoadForTab(ctx, 2, "https://x/watch?v=1"))

	// Navigation vers une page sans capture: l'entrée de l'ancienne page part.
	assert.False(t, c.AutoLoadForTab(ctx, 2, "https://x/other"))
	_, ok = c.memory(2)
	assert.False(t, ok)

	assert.False(t, c.AutoLoadForTab(ctx, 3, ""))
}

func TestCache_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	c, store, clk := newCache(t)

	_, err := c.Store(ctx, 1, "a.vtt", sampleContent, "https://x/old")
	require.NoError(t, err)
	clk.Advance(6 * 24 * time.Hour)
	_, err = c.Store(ctx, 2, "b.vtt", sampleContent, "https://x/new")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, domain.HistoryKey, []byte("[]")))
	clk.Advance(2 * 24 * time.Hour)

	n, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := store.Keys(ctx, domain.CacheKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.PageKey("https://x/new")}, keys)
	_, err = store.Get(ctx, domain.HistoryKey)
	assert.NoError(t, err)
}

func TestCacheSweeper(t *testing.T) {
	ctx := context.Background()
	c, _, clk := newCache(t)

	_, err := NewCacheSweeper(zerolog.Nop(), c, "not a schedule")
	assert.Error(t, err)

	sw, err := NewCacheSweeper(zerolog.Nop(), c, "")
	require.NoError(t, err)

	_, err = c.Store(ctx, 1, "a.vtt", sampleContent, "https://x/old")
	require.NoError(t, err)
	assert.Equal(t, 0, sw.SweepOnce(ctx))

	clk.Advance(8 * 24 * time.Hour)
	assert.Equal(t, 1, sw.SweepOnce(ctx))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, sw.Run(canceled))
}

// interleavedStore exécute hook une seule fois, juste après le premier Get.
type interleavedStore struct {
	ports.KVStore
	once sync.Once
	hook func()
}

func (s *interleavedStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.KVStore.Get(ctx, key)
	s.once.Do(s.hook)
	return b, err
}

func TestCache_PurgeExpiredKeepsConcurrentRewrite(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	clk := newClock()
	store := &interleavedStore{KVStore: base}
	c := NewCacheManager(zerolog.Nop(), store, DefaultCacheTTL)
	c.Now = clk.Now

	const page = "https://x/page"
	_, err := c.Store(ctx, 1, "a.vtt", sampleContent, page)
	require.NoError(t, err)
	clk.Advance(8 * 24 * time.Hour)

	// L'entrée est réécrite entre la lecture du sweep et sa suppression.
	store.hook = func() {
		_, err := c.Store(ctx, 2, "b.vtt", sampleContent, page)
		require.NoError(t, err)
	}

	purged, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	e, ok := c.Get(ctx, 3, page)
	require.True(t, ok)
	assert.Equal(t, "b.vtt", e.SourceURL)
}
