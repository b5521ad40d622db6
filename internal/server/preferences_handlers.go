package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/preferences"
)

// preferenceHandlers implements `GET/PUT/DELETE /api/preferences/{key}`.
type preferenceHandlers struct {
	svc *preferences.Service
	log zerolog.Logger
}

func newPreferenceHandlers(svc *preferences.Service, log zerolog.Logger) *preferenceHandlers {
	return &preferenceHandlers{svc: svc, log: log.With().Str("handler", "preferences").Logger()}
}

func (h *preferenceHandlers) registerRoutes(r chi.Router) {
	r.Get("/preferences/*", h.handleGet)
	r.Put("/preferences/*", h.handleSet)
	r.Delete("/preferences/*", h.handleDelete)
}

func (h *preferenceHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	value, err := h.svc.Get(key)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (h *preferenceHandlers) handleSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Set(key, body); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *preferenceHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := h.svc.Delete(key); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *preferenceHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, preferences.ErrNotFound):
		writeError(w, http.StatusNotFound, "preference not found")
	case errors.Is(err, preferences.ErrInvalidKey), errors.Is(err, preferences.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("preference operation failed")
		writeError(w, http.StatusInternalServerError, "preference operation failed")
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
