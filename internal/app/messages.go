package app

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/subcapture/internal/classifier"
	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/metrics"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

const (
	ActionSubtitleFound     = "subtitleFound"
	ActionGetStatus         = "getStatus"
	ActionGetContent        = "getContent"
	ActionGetHistory        = "getHistory"
	ActionGetHistoryItem    = "getHistoryItem"
	ActionClearHistory      = "clearHistory"
	ActionRemoveHistoryItem = "removeHistoryItem"
	ActionTabUpdated        = "tabUpdated"
	ActionTabRemoved        = "tabRemoved"
	ActionClearCache        = "clearCache"
)

// Message est l'enveloppe commune du protocole: seuls les champs utiles à
// l'action sont renseignés.
type Message struct {
	Action     string `json:"action" validate:"required"`
	TabID      int    `json:"tabId,omitempty" validate:"gte=0"`
	URL        string `json:"url,omitempty"`
	Content    string `json:"content,omitempty"`
	PageURL    string `json:"pageUrl,omitempty" validate:"omitempty,url"`
	ID         string `json:"id,omitempty"`
	FaviconURL string `json:"faviconUrl,omitempty" validate:"omitempty,url"`
}

type AckResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type StatusResponse struct {
	HasSubtitle bool `json:"hasSubtitle"`
}

type ContentResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HistoryResponse struct {
	Success bool                 `json:"success"`
	History []domain.HistoryItem `json:"history"`
}

// HistoryItemResponse aplatit les champs de l'item à côté de success.
type HistoryItemResponse struct {
	Success bool `json:"success"`
	*domain.HistoryItem
}

// CaptureEvent est publié sur le bus à chaque capture acceptée.
type CaptureEvent struct {
	ID         string `json:"id"`
	TabID      int    `json:"tabId"`
	SourceURL  string `json:"sourceUrl"`
	PageURL    string `json:"pageUrl,omitempty"`
	Outcome    string `json:"outcome"`
	CapturedAt int64  `json:"capturedAt"`
}

// Dispatcher route les messages du protocole vers le cache et l'historique.
type Dispatcher struct {
	logger   zerolog.Logger
	cache    *CacheManager
	history  *HistoryManager
	bus      ports.EventBus
	validate *validator.Validate

	Metrics *metrics.Metrics
}

func NewDispatcher(logger zerolog.Logger, cache *CacheManager, history *HistoryManager, bus ports.EventBus) *Dispatcher {
	v := validator.New()
	v.RegisterStructValidation(validateMessage, Message{})
	return &Dispatcher{
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		cache:    cache,
		history:  history,
		bus:      bus,
		validate: v,
	}
}

func validateMessage(sl validator.StructLevel) {
	m := sl.Current().Interface().(Message)
	switch m.Action {
	case ActionGetHistoryItem, ActionRemoveHistoryItem:
		if m.ID == "" {
			sl.ReportError(m.ID, "id", "ID", "required", "")
		}
	case ActionTabUpdated:
		if m.PageURL == "" {
			sl.ReportError(m.PageURL, "pageUrl", "PageURL", "required", "")
		}
	}
}

// Handle traite un message et renvoie la réponse typée de l'action. Seuls les
// messages invalides ou inconnus produisent une erreur (CodedError).
func (d *Dispatcher) Handle(ctx context.Context, m Message) (any, error) {
	if err := d.validate.Struct(m); err != nil {
		return nil, &CodedError{Code: CodeInvalidMessage, Message: err.Error(), Err: ErrInvalidMessage}
	}

	switch m.Action {
	case ActionSubtitleFound:
		return d.subtitleFound(ctx, m), nil
	case ActionGetStatus:
		return d.status(ctx, m), nil
	case ActionGetContent:
		return d.content(ctx, m), nil
	case ActionGetHistory:
		return HistoryResponse{Success: true, History: d.history.Summary(ctx)}, nil
	case ActionGetHistoryItem:
		item, ok := d.history.Get(ctx, m.ID)
		if !ok {
			return HistoryItemResponse{Success: false}, nil
		}
		return HistoryItemResponse{Success: true, HistoryItem: &item}, nil
	case ActionClearHistory:
		d.history.Clear(ctx)
		d.publish(ports.TopicHistoryUpdated, map[string]any{"cleared": true})
		return AckResponse{Success: true}, nil
	case ActionRemoveHistoryItem:
		removed := d.history.Remove(ctx, m.ID)
		if removed {
			d.publish(ports.TopicHistoryUpdated, map[string]any{"removed": m.ID})
		}
		return AckResponse{Success: removed}, nil
	case ActionTabUpdated:
		return StatusResponse{HasSubtitle: d.cache.AutoLoadForTab(ctx, m.TabID, m.PageURL)}, nil
	case ActionTabRemoved:
		d.cache.Clear(m.TabID)
		return AckResponse{Success: true}, nil
	case ActionClearCache:
		return d.clearCache(ctx, m), nil
	default:
		return nil, &CodedError{Code: CodeUnknownAction, Message: m.Action, Err: ErrUnknownAction}
	}
}

func (d *Dispatcher) subtitleFound(ctx context.Context, m Message) AckResponse {
	logger := d.logger.With().Int("tab_id", m.TabID).Str("source_url", m.URL).Logger()

	if classifier.IsThumbnailTrack(m.Content) {
		d.Metrics.Decoy("dispatcher")
		logger.Debug().Msg("thumbnail sprite track rejected")
		d.publish(ports.TopicSubtitleRejected, map[string]any{"tabId": m.TabID, "sourceUrl": m.URL, "reason": CodeThumbnailTrack})
		return AckResponse{Success: false, Error: CodeThumbnailTrack}
	}

	outcome, err := d.cache.Store(ctx, m.TabID, m.URL, m.Content, m.PageURL)
	if err != nil {
		if errors.Is(err, ErrEmptyContent) {
			return AckResponse{Success: false, Error: CodeEmptyContent}
		}
		logger.Warn().Err(err).Msg("failed to store subtitle")
		return AckResponse{Success: false, Error: err.Error()}
	}

	if m.PageURL != "" {
		if _, err := d.history.Add(ctx, m.PageURL, m.URL, m.Content, m.FaviconURL); err != nil {
			logger.Warn().Err(err).Msg("failed to add history item")
		} else {
			d.publish(ports.TopicHistoryUpdated, map[string]any{"pageUrl": m.PageURL})
		}
	}

	d.publish(ports.TopicSubtitleCaptured, CaptureEvent{
		ID:         xid.New().String(),
		TabID:      m.TabID,
		SourceURL:  m.URL,
		PageURL:    m.PageURL,
		Outcome:    string(outcome),
		CapturedAt: d.cache.now().UnixMilli(),
	})
	logger.Info().Str("page_url", m.PageURL).Str("outcome", string(outcome)).Msg("subtitle stored")
	return AckResponse{Success: true}
}

func (d *Dispatcher) status(ctx context.Context, m Message) StatusResponse {
	e, ok := d.cache.Get(ctx, m.TabID, m.PageURL)
	return StatusResponse{HasSubtitle: ok && !classifier.IsThumbnailTrack(e.Content)}
}

// content revérifie le classifieur: une piste de vignettes ne doit jamais
// atteindre le consommateur.
func (d *Dispatcher) content(ctx context.Context, m Message) ContentResponse {
	e, ok := d.cache.Get(ctx, m.TabID, m.PageURL)
	if !ok {
		return ContentResponse{Success: false, Error: "No subtitle available for this page"}
	}
	if classifier.IsThumbnailTrack(e.Content) {
		d.Metrics.Decoy("dispatcher")
		return ContentResponse{Success: false, Error: "Captured track only contains thumbnail coordinates"}
	}
	return ContentResponse{Success: true, Content: e.Content, URL: e.SourceURL}
}

func (d *Dispatcher) clearCache(ctx context.Context, m Message) AckResponse {
	d.cache.Clear(m.TabID)
	if m.PageURL != "" {
		if err := d.cache.Purge(ctx, m.PageURL); err != nil {
			d.logger.Warn().Err(err).Str("page_url", m.PageURL).Msg("failed to purge durable cache entry")
			return AckResponse{Success: false, Error: err.Error()}
		}
	}
	d.publish(ports.TopicCacheCleared, map[string]any{"tabId": m.TabID, "pageUrl": m.PageURL})
	return AckResponse{Success: true}
}

func (d *Dispatcher) publish(topic string, v any) {
	if d.bus == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	d.bus.Publish(topic, b)
}
