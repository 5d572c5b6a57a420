package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/metrics"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

const (
	DefaultHistoryMaxSize = 10
	titleWords            = 25
)

// HistoryManager garde les dernières pages capturées, la plus récente en tête,
// une seule entrée par pageUrl. La liste est persistée en un seul document
// JSON sous domain.HistoryKey.
type HistoryManager struct {
	logger zerolog.Logger
	store  ports.KVStore

	mu      sync.Mutex
	items   []domain.HistoryItem
	maxSize int
	loaded  bool

	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewHistoryManager(logger zerolog.Logger, store ports.KVStore, maxSize int) *HistoryManager {
	if maxSize <= 0 {
		maxSize = DefaultHistoryMaxSize
	}
	return &HistoryManager{
		logger:  logger.With().Str("component", "history").Logger(),
		store:   store,
		maxSize: maxSize,
		Now:     time.Now,
	}
}

func (h *HistoryManager) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// Add insère la capture en tête. Une entrée existante pour la même page est
// retirée d'abord, puis la liste est tronquée à la taille maximale.
func (h *HistoryManager) Add(ctx context.Context, pageURL, sourceURL, content, faviconURL string) (domain.HistoryItem, error) {
	if strings.TrimSpace(content) == "" {
		return domain.HistoryItem{}, ErrEmptyContent
	}
	if strings.TrimSpace(pageURL) == "" {
		return domain.HistoryItem{}, ErrMissingPageURL
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureLoadedLocked(ctx)

	capturedAt := h.now().UnixMilli()
	item := domain.HistoryItem{
		ID:         domain.HistoryID(pageURL, capturedAt),
		Title:      Title(content, pageURL),
		PageURL:    pageURL,
		SourceURL:  sourceURL,
		Content:    content,
		CapturedAt: capturedAt,
		FaviconURL: faviconURL,
		Language:   DetectLanguage(content),
	}

	next := make([]domain.HistoryItem, 0, len(h.items)+1)
	next = append(next, item)
	for _, it := range h.items {
		if it.PageURL != pageURL {
			next = append(next, it)
		}
	}
	h.items = truncate(next, h.maxSize)
	h.persistLocked(ctx)
	return item, nil
}

func (h *HistoryManager) Get(ctx context.Context, id string) (domain.HistoryItem, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureLoadedLocked(ctx)
	for _, it := range h.items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.HistoryItem{}, false
}

// Summary renvoie une copie de la liste ordonnée (plus récent d'abord).
func (h *HistoryManager) Summary(ctx context.Context) []domain.HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureLoadedLocked(ctx)
	return append([]domain.HistoryItem{}, h.items...)
}

func (h *HistoryManager) Remove(ctx context.Context, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureLoadedLocked(ctx)
	for i, it := range h.items {
		if it.ID == id {
			h.items = append(h.items[:i:i], h.items[i+1:]...)
			h.persistLocked(ctx)
			return true
		}
	}
	return false
}

func (h *HistoryManager) Clear(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
	h.loaded = true
	h.Metrics.HistorySize(0)
	if h.store == nil {
		return
	}
	if err := h.store.Delete(ctx, domain.HistoryKey); err != nil {
		h.logger.Warn().Err(err).Msg("failed to clear persisted history")
	}
}

func (h *HistoryManager) MaxSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxSize
}

// SetMaxSize change la borne; la liste est tronquée immédiatement si besoin.
func (h *HistoryManager) SetMaxSize(ctx context.Context, n int) {
	if n <= 0 {
		n = DefaultHistoryMaxSize
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxSize = n
	h.ensureLoadedLocked(ctx)
	if len(h.items) > n {
		h.items = truncate(h.items, n)
		h.persistLocked(ctx)
	}
}

// ensureLoadedLocked charge la liste persistée au premier accès. Si le store
// est indisponible, on continue en mémoire et on retentera plus tard; les
// items mémoire restent prioritaires lors de la fusion.
func (h *HistoryManager) ensureLoadedLocked(ctx context.Context) {
	if h.loaded {
		return
	}
	if h.store == nil {
		h.loaded = true
		return
	}
	b, err := h.store.Get(ctx, domain.HistoryKey)
	if errors.Is(err, ports.ErrNotFound) {
		h.loaded = true
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load history, using memory only")
		return
	}
	var persisted []domain.HistoryItem
	if err := json.Unmarshal(b, &persisted); err != nil {
		h.logger.Warn().Err(err).Msg("corrupt persisted history, starting empty")
		h.loaded = true
		return
	}
	h.loaded = true

	seen := make(map[string]struct{}, len(h.items))
	for _, it := range h.items {
		seen[it.PageURL] = struct{}{}
	}
	merged := append([]domain.HistoryItem{}, h.items...)
	for _, it := range persisted {
		if _, dup := seen[it.PageURL]; dup {
			continue
		}
		seen[it.PageURL] = struct{}{}
		merged = append(merged, it)
	}
	h.items = truncate(merged, h.maxSize)
	h.Metrics.HistorySize(len(h.items))
}

func (h *HistoryManager) persistLocked(ctx context.Context) {
	h.Metrics.HistorySize(len(h.items))
	if h.store == nil {
		return
	}
	b, err := json.Marshal(h.items)
	if err == nil {
		err = h.store.Set(ctx, domain.HistoryKey, b)
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to persist history, kept in memory only")
	}
}

func truncate(items []domain.HistoryItem, n int) []domain.HistoryItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Title prend les 25 premiers mots du dialogue. Sans dialogue exploitable, le
// titre retombe sur l'URL de la page.
func Title(content, pageURL string) string {
	words := strings.Fields(strings.Join(canon.DialogueLines(content), " "))
	if len(words) == 0 {
		return pageURL
	}
	title := strings.Join(words[:min(len(words), titleWords)], " ")
	if len(words) > titleWords {
		title += "..."
	}
	return norm.NFC.String(title)
}

// DetectLanguage renvoie le code ISO 639-1 du dialogue, ou "" si la détection
// n'est pas fiable.
func DetectLanguage(content string) string {
	text := strings.Join(canon.DialogueLines(content), " ")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
