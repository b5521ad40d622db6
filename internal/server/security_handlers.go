package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/repo"
)

// securityHandlers implements `PATCH /api/securities/{id}` for assigning or
// clearing a security's manual asset class.
type securityHandlers struct {
	securities *repo.SecurityRepository
	q          repo.Querier
	log        zerolog.Logger
}

func newSecurityHandlers(securities *repo.SecurityRepository, q repo.Querier, log zerolog.Logger) *securityHandlers {
	return &securityHandlers{securities: securities, q: q, log: log.With().Str("handler", "securities").Logger()}
}

func (h *securityHandlers) registerRoutes(r chi.Router) {
	r.Patch("/securities/{id}", h.handlePatch)
}

func (h *securityHandlers) handlePatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid security id")
		return
	}
	var body struct {
		AssetClassID *int64 `json:"asset_class_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.securities.SetManualAssetClass(h.q, id, body.AssetClassID); err != nil {
		h.log.Error().Err(err).Int64("security_id", id).Msg("set manual asset class failed")
		writeError(w, http.StatusInternalServerError, "failed to assign asset class")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
