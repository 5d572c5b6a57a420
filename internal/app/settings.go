package app

import (
	"context"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/ports"
)

const (
	maxHistorySize           = 500
	maxConcurrentExtractions = 64
)

// SettingsService lit et écrit les réglages runtime sous domain.SettingsKey.
// Le document est partagé: les champs inconnus sont préservés à l'écriture.
type SettingsService struct {
	store    ports.KVStore
	validate *validator.Validate

	mu    sync.Mutex
	hooks []func(context.Context, domain.Settings)
}

func NewSettingsService(store ports.KVStore) *SettingsService {
	return &SettingsService{store: store, validate: validator.New()}
}

// SettingsPatch est une mise à jour partielle: les champs nil sont conservés.
type SettingsPatch struct {
	HistoryMaxSize           *int `json:"historyMaxSize,omitempty" validate:"omitempty,gte=0"`
	MaxConcurrentExtractions *int `json:"maxConcurrentExtractions,omitempty" validate:"omitempty,gte=0"`
}

func (p SettingsPatch) applyTo(s domain.Settings) domain.Settings {
	if p.HistoryMaxSize != nil {
		s.HistoryMaxSize = *p.HistoryMaxSize
	}
	if p.MaxConcurrentExtractions != nil {
		s.MaxConcurrentExtractions = *p.MaxConcurrentExtractions
	}
	return s
}

func (s *SettingsService) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return &CodedError{Code: CodeInvalidSettings, Message: err.Error(), Err: ErrInvalidSettings}
	}
	return nil
}

// OnChange enregistre un hook appelé après chaque Put (et par Apply).
func (s *SettingsService) OnChange(fn func(context.Context, domain.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	b, err := s.store.Get(ctx, domain.SettingsKey)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.DefaultSettings(), err
	}
	settings := domain.DefaultSettings()
	if err := json.Unmarshal(b, &settings); err != nil {
		return domain.DefaultSettings(), err
	}
	return normalize(settings), nil
}

// Put remplace les réglages. Valeurs négatives: CodedError invalid_settings;
// zéro revient au défaut, au-delà du plafond la valeur est ramenée au plafond.
func (s *SettingsService) Put(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if err := s.check(settings); err != nil {
		return domain.Settings{}, err
	}
	settings = normalize(settings)

	doc := map[string]json.RawMessage{}
	if b, err := s.store.Get(ctx, domain.SettingsKey); err == nil {
		_ = json.Unmarshal(b, &doc)
	} else if !errors.Is(err, ports.ErrNotFound) {
		return domain.Settings{}, err
	}
	own, err := json.Marshal(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(own, &fields); err != nil {
		return domain.Settings{}, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := s.store.Set(ctx, domain.SettingsKey, b); err != nil {
		return domain.Settings{}, err
	}

	s.notify(ctx, settings)
	return settings, nil
}

// Patch applique une mise à jour partielle sur les réglages courants.
func (s *SettingsService) Patch(ctx context.Context, patch SettingsPatch) (domain.Settings, error) {
	if err := s.check(patch); err != nil {
		return domain.Settings{}, err
	}
	current, err := s.Get(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return s.Put(ctx, patch.applyTo(current))
}

// Apply charge les réglages persistés et déclenche les hooks (démarrage).
func (s *SettingsService) Apply(ctx context.Context) (domain.Settings, error) {
	settings, err := s.Get(ctx)
	s.notify(ctx, settings)
	return settings, err
}

func (s *SettingsService) notify(ctx context.Context, settings domain.Settings) {
	s.mu.Lock()
	hooks := append([]func(context.Context, domain.Settings){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, settings)
	}
}

// Validation légère: valeurs hors bornes ramenées aux défauts ou au plafond.
func normalize(settings domain.Settings) domain.Settings {
	def := domain.DefaultSettings()
	if settings.HistoryMaxSize <= 0 {
		settings.HistoryMaxSize = def.HistoryMaxSize
	}
	if settings.HistoryMaxSize > maxHistorySize {
		settings.HistoryMaxSize = maxHistorySize
	}
	if settings.MaxConcurrentExtractions <= 0 {
		settings.MaxConcurrentExtractions = def.MaxConcurrentExtractions
	}
	if settings.MaxConcurrentExtractions > maxConcurrentExtractions {
		settings.MaxConcurrentExtractions = maxConcurrentExtractions
	}
	return settings
}
