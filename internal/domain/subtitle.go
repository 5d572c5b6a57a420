package domain

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// Préfixe des entrées de cache durables dans le KV partagé.
	CacheKeyPrefix = "subtitle_"
	// Clé fixe de la liste d'historique (hors préfixe cache).
	HistoryKey = "subtitleHistory"
	// Clé des réglages runtime.
	SettingsKey = "settings"
)

// CapturedSubtitle est un événement de détection, immuable après création.
type CapturedSubtitle struct {
	ID            string `json:"id"`
	SourceURL     string `json:"sourceUrl"`
	CanonicalText string `json:"canonicalText"`
	CapturedAt    int64  `json:"capturedAt"`
	PageURL       string `json:"pageUrl,omitempty"`
	TabID         int    `json:"tabId,omitempty"`
}

// CacheEntry est l'enregistrement mémoire/durable dérivé d'une capture.
type CacheEntry struct {
	PageKey       string `json:"pageKey,omitempty"`
	Content       string `json:"content"`
	SourceURL     string `json:"sourceUrl"`
	SourceURLHash string `json:"sourceUrlHash"`
	PageURL       string `json:"pageUrl,omitempty"`
	CachedAt      int64  `json:"cachedAt"`
}

// Expired indique si l'entrée a dépassé le TTL. ttl <= 0 désactive l'expiration.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(e.CachedAt)) > ttl
}

type HistoryItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PageURL    string `json:"pageUrl"`
	SourceURL  string `json:"sourceUrl"`
	Content    string `json:"content"`
	CapturedAt int64  `json:"capturedAt"`
	FaviconURL string `json:"faviconUrl,omitempty"`
	Language   string `json:"language,omitempty"`
}

// NormalizePageURL retire query string et fragment, pour que les revisites
// d'une même page retombent sur la même clé.
func NormalizePageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		// URL non parsable: découpe brute.
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// PageKey renvoie la clé durable d'une page ("" si pageURL est vide).
func PageKey(pageURL string) string {
	normalized := NormalizePageURL(pageURL)
	if normalized == "" {
		return ""
	}
	return CacheKeyPrefix + base64.StdEncoding.EncodeToString([]byte(normalized))
}

// PageURLFromKey inverse PageKey. ok=false pour les clés hors namespace cache.
func PageURLFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, CacheKeyPrefix) {
		return "", false
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(key, CacheKeyPrefix))
	if err != nil {
		return "", false
	}
	return string(b), true
}

// ShortHash est un hash court (base36 de xxhash64), stable entre processus.
func ShortHash(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 36)
}

// HistoryID dérive l'id opaque d'un item à partir de la page et de l'instant de capture.
func HistoryID(pageURL string, capturedAt int64) string {
	return ShortHash(pageURL + "|" + strconv.FormatInt(capturedAt, 10))
}
