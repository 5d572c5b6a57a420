package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/subcapture/internal/app"
	"github.com/Guilhem-Bonnet/subcapture/internal/httpjson"
)

// MessagesHandler expose le protocole de messages: brut sur /messages, et
// sous forme REST pour les onglets et l'historique.
type MessagesHandler struct {
	dispatcher *app.Dispatcher
	maxBody    int64
}

func NewMessagesHandler(d *app.Dispatcher, maxBody int64) *MessagesHandler {
	return &MessagesHandler{dispatcher: d, maxBody: maxBody}
}

func (h *MessagesHandler) Routes(r chi.Router) {
	r.Post("/messages", h.message)

	r.Route("/tabs/{tabId}", func(r chi.Router) {
		r.Get("/status", h.tabStatus)
		r.Get("/content", h.tabContent)
		r.Post("/navigate", h.tabNavigate)
		r.Delete("/", h.tabRemove)
	})

	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.history)
		r.Delete("/", h.clearHistory)
		r.Get("/{id}", h.historyItem)
		r.Delete("/{id}", h.removeHistoryItem)
	})
}

func (h *MessagesHandler) message(w http.ResponseWriter, r *http.Request) {
	var m app.Message
	if err := httpjson.Decode(w, r, h.maxBody, &m); err != nil {
		writeDecodeError(w, err)
		return
	}
	out, ok := h.handle(w, r, m)
	if ok {
		httpjson.Write(w, http.StatusOK, out)
	}
}

func (h *MessagesHandler) tabStatus(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	out, ok := h.handle(w, r, app.Message{Action: app.ActionGetStatus, TabID: tabID, PageURL: r.URL.Query().Get("pageUrl")})
	if ok {
		httpjson.Write(w, http.StatusOK, out)
	}
}

func (h *MessagesHandler) tabContent(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	out, ok := h.handle(w, r, app.Message{Action: app.ActionGetContent, TabID: tabID, PageURL: r.URL.Query().Get("pageUrl")})
	if !ok {
		return
	}
	status := http.StatusOK
	if resp, isContent := out.(app.ContentResponse); isContent && !resp.Success {
		status = http.StatusNotFound
	}
	httpjson.Write(w, status, out)
}

type navigateRequest struct {
	PageURL string `json:"pageUrl"`
}

func (h *MessagesHandler) tabNavigate(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if err := httpjson.Decode(w, r, h.maxBody, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	out, ok := h.handle(w, r, app.Message{Action: app.ActionTabUpdated, TabID: tabID, PageURL: req.PageURL})
	if ok {
		httpjson.Write(w, http.StatusOK, out)
	}
}

func (h *MessagesHandler) tabRemove(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	out, ok := h.handle(w, r, app.Message{Action: app.ActionTabRemoved, TabID: tabID})
	if ok {
		httpjson.Write(w, http.StatusOK, out)
	}
}

func (h *MessagesHandler) history(w http.ResponseWriter, r *http.Request) {
	out, ok := h.handle(w, r, app.Message{Action: app.ActionGetHistory})
	if ok {
		httpjson.Write(w, http.StatusOK, out)
	}
}

func (h *MessagesHandler) clearHistory(w http.ResponseWriter, r *http.Request) {
	out, ok := h.handle(w, r, app.Message{Action: app.ActionClearHistory})
	if ok {
		httpjson.Write(w, http.StatusOK, out)
	}
}

func (h *MessagesHandler) historyItem(w http.ResponseWriter, r *http.Request) {
	out, ok := h.handle(w, r, app.Message{Action: app.ActionGetHistoryItem, ID: chi.URLParam(r, "id")})
	if !ok {
		return
	}
	if resp, isItem := out.(app.HistoryItemResponse); isItem && !resp.Success {
		httpjson.WriteCodedError(w, http.StatusNotFound, app.CodeNotFound, "not found")
		return
	}
	httpjson.Write(w, http.StatusOK, out)
}

func (h *MessagesHandler) removeHistoryItem(w http.ResponseWriter, r *http.Request) {
	out, ok := h.handle(w, r, app.Message{Action: app.ActionRemoveHistoryItem, ID: chi.URLParam(r, "id")})
	if !ok {
		return
	}
	if resp, isAck := out.(app.AckResponse); isAck && !resp.Success {
		httpjson.WriteCodedError(w, http.StatusNotFound, app.CodeNotFound, "not found")
		return
	}
	httpjson.Write(w, http.StatusOK, out)
}

// handle écrit déjà la réponse d'erreur quand ok est faux.
func (h *MessagesHandler) handle(w http.ResponseWriter, r *http.Request, m app.Message) (any, bool) {
	out, err := h.dispatcher.Handle(r.Context(), m)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return out, true
}

// writeServiceError: CodedError → 400 avec son code, le reste → 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if code := app.ErrorCode(err); code != "" {
		httpjson.WriteCodedError(w, http.StatusBadRequest, code, err.Error())
		return
	}
	httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
}

func tabParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	tabID, err := strconv.Atoi(chi.URLParam(r, "tabId"))
	if err != nil || tabID < 0 {
		httpjson.WriteCodedError(w, http.StatusBadRequest, app.CodeInvalidMessage, "invalid tab id")
		return 0, false
	}
	return tabID, true
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, httpjson.ErrBodyTooLarge) {
		httpjson.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	httpjson.WriteCodedError(w, http.StatusBadRequest, app.CodeInvalidMessage, "invalid json")
}
