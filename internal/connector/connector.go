// Package connector convertit les différents formats de sous-titres servis par
// les hébergeurs vers le texte canonique (voir package canon).
package connector

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/subcapture/internal/canon"
)

// Connector reconnaît et décode un format de sous-titres.
type Connector interface {
	Name() string
	// Match indique si l'URL est une source que ce connecteur sait décoder.
	Match(rawURL string) bool
	// Structured indique que le contenu doit être un JSON valide avant conversion.
	Structured() bool
	Convert(raw []byte, rawURL string) (string, error)
}

// Registry est une liste ordonnée: le premier connecteur qui matche gagne.
// Les prédicats spécifiques doivent donc précéder les fallbacks génériques.
type Registry struct {
	logger     zerolog.Logger
	connectors []Connector
}

func NewRegistry(logger zerolog.Logger, connectors ...Connector) *Registry {
	return &Registry{logger: logger, connectors: connectors}
}

// DefaultRegistry: json3 → XML timedtext → SRT → WebVTT générique.
func DefaultRegistry(logger zerolog.Logger) *Registry {
	return NewRegistry(logger,
		NewTimedTextJSON(),
		NewTimedTextXML(),
		NewSRT(),
		NewWebVTT(),
	)
}

func (r *Registry) Connectors() []Connector {
	return append([]Connector(nil), r.connectors...)
}

func (r *Registry) Resolve(rawURL string) (Connector, bool) {
	for _, c := range r.connectors {
		if c.Match(rawURL) {
			return c, true
		}
	}
	return nil, false
}

// Convert ne renvoie jamais d'erreur: un contenu invalide donne un document
// vide (en-tête seul) et un log, pour ne pas remonter dans le chemin chaud.
func (r *Registry) Convert(c Connector, raw []byte, rawURL string) string {
	if c == nil {
		return canon.Empty()
	}
	logger := r.logger.With().Str("connector", c.Name()).Str("url", rawURL).Logger()
	if c.Structured() && !json.Valid(raw) {
		logger.Warn().Int("bytes", len(raw)).Msg("invalid structured payload")
		return canon.Empty()
	}
	out, err := c.Convert(raw, rawURL)
	if err != nil {
		logger.Warn().Err(err).Msg("subtitle conversion failed")
		return canon.Empty()
	}
	if out == "" {
		return canon.Empty()
	}
	return out
}
