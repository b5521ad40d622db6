package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/repo"
	"github.com/aristath/ledgerfolio/internal/returns"
)

// returnsHandlers exposes the Returns Engine's GetReturns call over HTTP,
// with scope and a comma-separated period list as query parameters.
type returnsHandlers struct {
	engine *returns.Engine
	q      repo.Querier
	log    zerolog.Logger
}

func newReturnsHandlers(engine *returns.Engine, q repo.Querier, log zerolog.Logger) *returnsHandlers {
	return &returnsHandlers{engine: engine, q: q, log: log.With().Str("handler", "returns").Logger()}
}

func (h *returnsHandlers) registerRoutes(r chi.Router) {
	r.Get("/returns", h.handleGetReturns)
}

func (h *returnsHandlers) handleGetReturns(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = returns.ScopeAll
	}

	var periods []returns.Period
	if raw := r.URL.Query().Get("periods"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			periods = append(periods, returns.Period(strings.TrimSpace(p)))
		}
	}

	result, err := h.engine.GetReturns(h.q, scope, periods)
	if err != nil {
		h.log.Error().Err(err).Str("scope", scope).Msg("get returns failed")
		writeError(w, http.StatusBadRequest, "failed to compute returns")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
