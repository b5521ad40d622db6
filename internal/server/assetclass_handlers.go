package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/assetclass"
	"github.com/aristath/ledgerfolio/internal/domain"
)

// assetClassHandlers implements the `/api/asset-types*` CRUD surface and
// the per-class allocation read.
type assetClassHandlers struct {
	svc *assetclass.Service
	log zerolog.Logger
}

func newAssetClassHandlers(svc *assetclass.Service, log zerolog.Logger) *assetClassHandlers {
	return &assetClassHandlers{svc: svc, log: log.With().Str("handler", "asset_classes").Logger()}
}

func (h *assetClassHandlers) registerRoutes(r chi.Router) {
	r.Get("/asset-types", h.handleList)
	r.Post("/asset-types", h.handleCreate)
	r.Put("/asset-types/{id}", h.handleUpdate)
	r.Delete("/asset-types/{id}", h.handleDelete)
	r.Get("/asset-types/{id}/holdings", h.handleHoldings)
	r.Get("/asset-types/allocation", h.handleAllocation)
}

func (h *assetClassHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list asset classes")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type assetClassBody struct {
	Name          string          `json:"name"`
	Color         string          `json:"color"`
	TargetPercent decimal.Decimal `json:"target_percent"`
}

func (h *assetClassHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body assetClassBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.svc.Create(&domain.AssetClass{Name: body.Name, Color: body.Color, TargetPercent: body.TargetPercent})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *assetClassHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset class id")
		return
	}
	var body assetClassBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Update(&domain.AssetClass{ID: id, Name: body.Name, Color: body.Color, TargetPercent: body.TargetPercent}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *assetClassHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset class id")
		return
	}
	if err := h.svc.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete asset class")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *assetClassHandlers) handleHoldings(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset class id")
		return
	}
	holdings, err := h.svc.HoldingsForClass(&id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_class_id", id).Msg("asset class holdings failed")
		writeError(w, http.StatusInternalServerError, "failed to load holdings")
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *assetClassHandlers) handleAllocation(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.AllocationSummary()
	if err != nil {
		h.log.Error().Err(err).Msg("allocation summary failed")
		writeError(w, http.StatusInternalServerError, "failed to compute allocation")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
