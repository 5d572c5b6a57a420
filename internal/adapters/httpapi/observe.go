package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/Guilhem-Bonnet/subcapture/internal/app"
	"github.com/Guilhem-Bonnet/subcapture/internal/httpjson"
	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
)

// Représentations d'une réponse lue dans la page.
const (
	ResponseTypeText        = "text"
	ResponseTypeArrayBuffer = "arraybuffer"
	ResponseTypeJSON        = "json"
)

type ObserveRequest struct {
	TabID        int             `json:"tabId"`
	PageURL      string          `json:"pageUrl,omitempty"`
	URL          string          `json:"url"`
	ResponseType string          `json:"responseType,omitempty"`
	Response     json.RawMessage `json:"response"`
}

type ObserveResponse struct {
	Outcome interceptor.Outcome `json:"outcome"`
}

// ObserveHandler reçoit les réponses qu'un agent dans la page a déjà lues.
type ObserveHandler struct {
	interceptor *interceptor.Interceptor
	maxBody     int64
}

func NewObserveHandler(i *interceptor.Interceptor, maxBody int64) *ObserveHandler {
	return &ObserveHandler{interceptor: i, maxBody: maxBody}
}

func (h *ObserveHandler) Routes(r chi.Router) {
	r.Post("/observe", h.observe)
}

func (h *ObserveHandler) observe(w http.ResponseWriter, r *http.Request) {
	var req ObserveRequest
	if err := httpjson.Decode(w, r, h.maxBody, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.URL == "" || req.TabID < 0 {
		httpjson.WriteCodedError(w, http.StatusBadRequest, app.CodeInvalidMessage, "url and a non-negative tabId are required")
		return
	}

	body, err := observedBody(req.ResponseType, req.Response)
	if err != nil {
		httpjson.WriteCodedError(w, http.StatusBadRequest, app.CodeInvalidMessage, err.Error())
		return
	}

	ctx := interceptor.WithPage(r.Context(), interceptor.Page{TabID: req.TabID, PageURL: req.PageURL})
	httpjson.Write(w, http.StatusOK, ObserveResponse{Outcome: h.interceptor.Observe(ctx, req.URL, body)})
}

// observedBody ramène la réponse à la valeur attendue par Observe. Sans
// responseType explicite, une chaîne JSON vaut texte et le reste vaut JSON.
func observedBody(responseType string, raw json.RawMessage) (any, error) {
	switch responseType {
	case ResponseTypeText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case ResponseTypeArrayBuffer:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	case ResponseTypeJSON:
		return []byte(raw), nil
	case "":
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
		return []byte(raw), nil
	default:
		return nil, &app.CodedError{Code: app.CodeInvalidMessage, Message: "unsupported responseType " + responseType}
	}
}
