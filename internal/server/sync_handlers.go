package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/ledgerfolio/internal/providers"
	"github.com/aristath/ledgerfolio/internal/sync"
	"github.com/aristath/ledgerfolio/internal/valuation"
)

// syncHandlers implements `POST /api/sync` and `GET /api/system/health`
// (gopsutil CPU/mem/disk alongside the sync-lock state).
type syncHandlers struct {
	orchestrator *sync.Orchestrator
	valuation    *valuation.Engine
	startedAt    time.Time
	log          zerolog.Logger
}

func newSyncHandlers(orchestrator *sync.Orchestrator, valuationEngine *valuation.Engine, startedAt time.Time, log zerolog.Logger) *syncHandlers {
	return &syncHandlers{orchestrator: orchestrator, valuation: valuationEngine, startedAt: startedAt, log: log.With().Str("handler", "sync").Logger()}
}

func (h *syncHandlers) registerRoutes(r chi.Router) {
	r.Post("/sync", h.handleTriggerSync)
	r.Get("/system/health", h.handleSystemHealth)
	r.Get("/valuation/gaps", h.handleDiagnoseGaps)
}

// handleTriggerSync maps TriggerSync outcomes to HTTP: 200 with the session
// report, 409 when another sync holds the lock, 500 otherwise. TriggerSync
// records per-provider auth/connection failures on that provider's accounts
// and sync log entry rather than propagating them, so those never reach
// this error path.
func (h *syncHandlers) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, sync.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "sync already in progress")
			return
		}
		h.log.Error().Err(err).Msg("sync failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  report.SessionID,
		"is_complete": report.Completed,
		"warnings":    report.Warnings,
	})
}

func (h *syncHandlers) handleDiagnoseGaps(w http.ResponseWriter, r *http.Request) {
	reports, err := h.valuation.DiagnoseGaps()
	if err != nil {
		h.log.Error().Err(err).Msg("diagnose gaps failed")
		writeError(w, http.StatusInternalServerError, "failed to diagnose valuation gaps")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *syncHandlers) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"sync_in_progress": h.orchestrator.IsSyncInProgress(),
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		resp["cpu_percent"] = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memory_used_percent"] = vm.UsedPercent
	}
	if du, err := disk.Usage("."); err == nil {
		resp["disk_used_percent"] = du.UsedPercent
	}
	writeJSON(w, http.StatusOK, resp)
}

// providerHandlers implements `GET /api/providers`, `PUT
// /api/providers/{name}`.
type providerHandlers struct {
	registry *providers.Registry
	log      zerolog.Logger
}

func newProviderHandlers(registry *providers.Registry, log zerolog.Logger) *providerHandlers {
	return &providerHandlers{registry: registry, log: log.With().Str("handler", "providers").Logger()}
}

func (h *providerHandlers) registerRoutes(r chi.Router) {
	r.Get("/providers", h.handleList)
	r.Put("/providers/{name}", h.handleSetEnabled)
}

func (h *providerHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	states, err := h.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *providerHandlers) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		IsEnabled bool `json:"is_enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.registry.SetEnabled(name, body.IsEnabled); err != nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "is_enabled": body.IsEnabled})
}
