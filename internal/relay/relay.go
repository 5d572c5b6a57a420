// Package relay fait suivre les notifications de capture de l'intercepteur
// vers le cœur, sous forme de messages subtitleFound.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/subcapture/internal/app"
	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
)

type Forwarder interface {
	Forward(ctx context.Context, msg app.Message) error
}

// ForwarderFunc branche le relais directement sur un Dispatcher en process.
type ForwarderFunc func(ctx context.Context, msg app.Message) error

func (f ForwarderFunc) Forward(ctx context.Context, msg app.Message) error { return f(ctx, msg) }

// DispatcherForwarder adapte un Dispatcher: une réponse success=false devient une erreur.
func DispatcherForwarder(d *app.Dispatcher) ForwarderFunc {
	return func(ctx context.Context, msg app.Message) error {
		out, err := d.Handle(ctx, msg)
		if err != nil {
			return err
		}
		if ack, ok := out.(app.AckResponse); ok && !ack.Success {
			return fmt.Errorf("capture rejected: %s", ack.Error)
		}
		return nil
	}
}

// HTTPForwarder poste les messages sur l'API du serveur.
type HTTPForwarder struct {
	baseURL string
	client  *http.Client
}

func NewHTTPForwarder(baseURL string, client *http.Client) *HTTPForwarder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPForwarder{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (f *HTTPForwarder) Forward(ctx context.Context, msg app.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/api/v1/messages", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var ack app.AckResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !ack.Success {
		return fmt.Errorf("capture rejected (status %d): %s", resp.StatusCode, ack.Error)
	}
	return nil
}

// Relay consomme les notifications et les transmet, sans garantie de
// livraison: un échec est loggué, la notification est perdue.
type Relay struct {
	logger zerolog.Logger
	source <-chan interceptor.Notification
	fwd    Forwarder

	// Valeurs utilisées quand la notification ne porte ni onglet ni page.
	DefaultTabID   int
	DefaultPageURL string
	FaviconURL     string
	Timeout        time.Duration
}

func New(logger zerolog.Logger, source <-chan interceptor.Notification, fwd Forwarder) *Relay {
	return &Relay{
		logger:  logger.With().Str("component", "relay").Logger(),
		source:  source,
		fwd:     fwd,
		Timeout: 10 * time.Second,
	}
}

// Run bloque jusqu'à l'annulation du contexte ou la fermeture de la source.
// Renvoie le nombre de messages transmis avec succès.
func (r *Relay) Run(ctx context.Context) int {
	forwarded := 0
	for {
		select {
		case <-ctx.Done():
			return forwarded
		case note, ok := <-r.source:
			if !ok {
				return forwarded
			}
			if r.forward(ctx, note) {
				forwarded++
			}
		}
	}
}

func (r *Relay) forward(ctx context.Context, note interceptor.Notification) bool {
	msg := r.Message(note)
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	if err := r.fwd.Forward(ctx, msg); err != nil {
		r.logger.Warn().Err(err).Str("url", note.SourceURL).Int("tab_id", msg.TabID).Msg("capture forward failed")
		return false
	}
	r.logger.Debug().Str("url", note.SourceURL).Int("tab_id", msg.TabID).Str("page_url", msg.PageURL).Msg("capture forwarded")
	return true
}

func (r *Relay) Message(note interceptor.Notification) app.Message {
	msg := app.Message{
		Action:     app.ActionSubtitleFound,
		TabID:      note.TabID,
		URL:        note.SourceURL,
		Content:    note.CanonicalText,
		PageURL:    note.PageURL,
		FaviconURL: r.FaviconURL,
	}
	if msg.TabID == 0 {
		msg.TabID = r.DefaultTabID
	}
	if msg.PageURL == "" {
		msg.PageURL = r.DefaultPageURL
	}
	return msg
}
