package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/metrics"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

const DefaultCacheTTL = 7 * 24 * time.Hour

// StoreOutcome décrit la transition d'état d'un onglet lors d'un Store.
type StoreOutcome string

const (
	StoreCreated    StoreOutcome = "created"
	StoreSuperseded StoreOutcome = "superseded"
	StoreRefreshed  StoreOutcome = "refreshed"
)

// Résultats de lookup (label de métrique).
const (
	lookupMemory  = "memory"
	lookupDurable = "durable"
	lookupMiss    = "miss"
	lookupExpired = "expired"
	lookupError   = "error"
)

// CacheManager tient une entrée mémoire par onglet et une entrée durable par
// page (pageKey). Les erreurs du store durable ne remontent jamais: l'opération
// se replie sur la mémoire seule.
type CacheManager struct {
	logger zerolog.Logger
	store  ports.KVStore
	ttl    time.Duration

	mu   sync.RWMutex
	tabs map[int]domain.CacheEntry

	group singleflight.Group

	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewCacheManager(logger zerolog.Logger, store ports.KVStore, ttl time.Duration) *CacheManager {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CacheManager{
		logger: logger.With().Str("component", "cache").Logger(),
		store:  store,
		ttl:    ttl,
		tabs:   make(map[int]domain.CacheEntry),
		Now:    time.Now,
	}
}

func (c *CacheManager) TTL() time.Duration { return c.ttl }

func (c *CacheManager) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Store enregistre une capture pour l'onglet, et pour la page si elle est connue.
func (c *CacheManager) Store(ctx context.Context, tabID int, sourceURL, content, pageURL string) (StoreOutcome, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}

	entry := domain.CacheEntry{
		PageKey:       domain.PageKey(pageURL),
		Content:       content,
		SourceURL:     sourceURL,
		SourceURLHash: domain.ShortHash(sourceURL),
		PageURL:       pageURL,
		CachedAt:      c.now().UnixMilli(),
	}

	c.mu.Lock()
	prev, had := c.tabs[tabID]
	c.tabs[tabID] = entry
	c.mu.Unlock()

	outcome := StoreCreated
	if had {
		outcome = StoreRefreshed
		if prev.SourceURLHash != entry.SourceURLHash || prev.PageKey != entry.PageKey {
			outcome = StoreSuperseded
		}
	}

	if entry.PageKey != "" && c.store != nil {
		b, err := json.Marshal(entry)
		if err == nil {
			err = c.store.Set(ctx, entry.PageKey, b)
		}
		if err != nil {
			c.logger.Warn().Err(err).Int("tab_id", tabID).Str("page_url", pageURL).Msg("durable cache write failed, kept in memory only")
		}
	}

	c.Metrics.Stored(string(outcome))
	c.logger.Debug().Int("tab_id", tabID).Str("source_url", sourceURL).Str("outcome", string(outcome)).Msg("subtitle cached")
	return outcome, nil
}

// Get lit la mémoire puis, si pageURL est fourni, le store durable. Un hit
// durable est promu en mémoire pour l'onglet.
func (c *CacheManager) Get(ctx context.Context, tabID int, pageURL string) (domain.CacheEntry, bool) {
	key := domain.PageKey(pageURL)

	if e, ok := c.memory(tabID); ok && (key == "" || e.PageKey == "" || e.PageKey == key) {
		if !e.Expired(c.now(), c.ttl) {
			c.Metrics.CacheLookup(lookupMemory)
			return e, true
		}
		c.dropTab(tabID, e)
	}
	if key == "" {
		c.Metrics.CacheLookup(lookupMiss)
		return domain.CacheEntry{}, false
	}

	e, result := c.loadDurable(ctx, key)
	c.Metrics.CacheLookup(result)
	if result != lookupDurable {
		return domain.CacheEntry{}, false
	}
	c.promote(tabID, e)
	return e, true
}

func (c *CacheManager) Has(ctx context.Context, tabID int, pageURL string) bool {
	_, ok := c.Get(ctx, tabID, pageURL)
	return ok
}

// AutoLoadForTab précharge l'entrée durable d'une page quand un onglet navigue.
// Sans effet si l'onglet a déjà cette page en mémoire; une entrée mémoire d'une
// autre page est retirée.
func (c *CacheManager) AutoLoadForTab(ctx context.Context, tabID int, pageURL string) bool {
	key := domain.PageKey(pageURL)
	if key == "" {
		return false
	}
	if e, ok := c.memory(tabID); ok {
		if e.PageKey == key {
			return true
		}
		if e.PageKey != "" {
			c.dropTab(tabID, e)
		}
	}

	e, result := c.loadDurable(ctx, key)
	if result != lookupDurable {
		c.logger.Debug().Int("tab_id", tabID).Str("page_url", pageURL).Str("result", result).Msg("no cached subtitle for page")
		return false
	}
	c.promote(tabID, e)
	return true
}

// Clear retire l'entrée mémoire de l'onglet. L'entrée durable reste.
func (c *CacheManager) Clear(tabID int) {
	c.mu.Lock()
	delete(c.tabs, tabID)
	c.mu.Unlock()
}

// Purge supprime l'entrée durable d'une page.
func (c *CacheManager) Purge(ctx context.Context, pageURL string) error {
	key := domain.PageKey(pageURL)
	if key == "" || c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, key)
}

// PurgeExpired supprime les entrées durables expirées et renvoie leur nombre.
func (c *CacheManager) PurgeExpired(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	keys, err := c.store.Keys(ctx, domain.CacheKeyPrefix)
	if err != nil {
		return 0, err
	}
	now := c.now()
	purged := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		b, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var e domain.CacheEntry
		if err := json.Unmarshal(b, &e); err == nil && !e.Expired(now, c.ttl) {
			continue
		}
		// Un Store concurrent a pu réécrire l'entrée depuis la lecture.
		deleted, err := c.store.DeleteIf(ctx, key, b)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to purge cache entry")
			continue
		}
		if !deleted {
			continue
		}
		if page, ok := domain.PageURLFromKey(key); ok {
			c.logger.Debug().Str("page_url", page).Msg("expired cache entry purged")
		}
		purged++
	}
	c.Metrics.Purged(purged)
	return purged, nil
}

func (c *CacheManager) memory(tabID int) (domain.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tabs[tabID]
	return e, ok
}

func (c *CacheManager) promote(tabID int, e domain.CacheEntry) {
	c.mu.Lock()
	c.tabs[tabID] = e
	c.mu.Unlock()
}

// dropTab retire l'entrée seulement si elle n'a pas été remplacée entre-temps.
func (c *CacheManager) dropTab(tabID int, e domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.tabs[tabID]; ok && cur.CachedAt == e.CachedAt && cur.SourceURLHash == e.SourceURLHash {
		delete(c.tabs, tabID)
	}
}

// loadDurable lit une entrée durable; les lectures concurrentes d'une même
// page sont fusionnées. Une entrée expirée (ou illisible) est supprimée.
func (c *CacheManager) loadDurable(ctx context.Context, key string) (domain.CacheEntry, string) {
	if c.store == nil {
		return domain.CacheEntry{}, lookupMiss
	}
	type loaded struct {
		entry  domain.CacheEntry
		result string
	}
	v, _, _ := c.group.Do(key, func() (any, error) {
		b, err := c.store.Get(ctx, key)
		if errors.Is(err, ports.ErrNotFound) {
			return loaded{result: lookupMiss}, nil
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("durable cache read failed")
			return loaded{result: lookupError}, nil
		}
		var e domain.CacheEntry
		if err := json.Unmarshal(b, &e); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, deleting")
			_ = c.store.Delete(ctx, key)
			return loaded{result: lookupMiss}, nil
		}
		if e.Expired(c.now(), c.ttl) {
			if err := c.store.Delete(ctx, key); err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired cache entry")
			}
			return loaded{result: lookupExpired}, nil
		}
		e.PageKey = key
		return loaded{entry: e, result: lookupDurable}, nil
	})
	l := v.(loaded)
	return l.entry, l.result
}
