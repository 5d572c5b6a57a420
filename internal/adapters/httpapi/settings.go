package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/subcapture/internal/app"
	"github.com/Guilhem-Bonnet/subcapture/internal/domain"
	"github.com/Guilhem-Bonnet/subcapture/internal/httpjson"
)

const maxSettingsBodyBytes = 1 << 20

// SettingsHandler expose les réglages runtime. PUT remplace le document,
// PATCH ne touche que les champs fournis.
type SettingsHandler struct {
	settings *app.SettingsService
	onChange func(domain.Settings)
}

// onChange est optionnel: l'application effective (historique, gate) passe
// par les hooks du SettingsService, onChange sert à la diffusion.
func NewSettingsHandler(settings *app.SettingsService, onChange func(domain.Settings)) *SettingsHandler {
	return &SettingsHandler{settings: settings, onChange: onChange}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	for _, p := range []string{"/settings", "/settings/"} {
		r.Get(p, h.get)
		r.Put(p, h.put)
		r.Patch(p, h.patch)
	}
	r.Get("/settings/defaults", h.defaults)
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, s)
}

func (h *SettingsHandler) defaults(w http.ResponseWriter, _ *http.Request) {
	httpjson.Write(w, http.StatusOK, domain.DefaultSettings())
}

func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request) {
	var s domain.Settings
	if err := httpjson.Decode(w, r, maxSettingsBodyBytes, &s); err != nil {
		writeDecodeError(w, err)
		return
	}
	h.respond(w, r, func() (domain.Settings, error) { return h.settings.Put(r.Context(), s) })
}

func (h *SettingsHandler) patch(w http.ResponseWriter, r *http.Request) {
	var p app.SettingsPatch
	if err := httpjson.Decode(w, r, maxSettingsBodyBytes, &p); err != nil {
		writeDecodeError(w, err)
		return
	}
	h.respond(w, r, func() (domain.Settings, error) { return h.settings.Patch(r.Context(), p) })
}

func (h *SettingsHandler) respond(w http.ResponseWriter, r *http.Request, update func() (domain.Settings, error)) {
	updated, err := update()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	hlog.FromRequest(r).Info().
		Int("history_max_size", updated.HistoryMaxSize).
		Int("max_concurrent_extractions", updated.MaxConcurrentExtractions).
		Msg("settings updated")
	if h.onChange != nil {
		h.onChange(updated)
	}
	httpjson.Write(w, http.StatusOK, updated)
}
