package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/accountsvc"
	"github.com/aristath/ledgerfolio/internal/domain"
)

// accountHandlers implements the account-scoped endpoints:
// GET /api/accounts, GET/POST /api/accounts/{id}/holdings|activities,
// PATCH/DELETE activities, POST /api/accounts/{id}/deactivate.
type accountHandlers struct {
	svc *accountsvc.Service
	log zerolog.Logger
}

func newAccountHandlers(svc *accountsvc.Service, log zerolog.Logger) *accountHandlers {
	return &accountHandlers{svc: svc, log: log.With().Str("handler", "accounts").Logger()}
}

func (h *accountHandlers) registerRoutes(r chi.Router) {
	r.Get("/accounts", h.handleList)
	r.Get("/accounts/{id}/holdings", h.handleHoldings)
	r.Get("/accounts/{id}/activities", h.handleListActivities)
	r.Post("/accounts/{id}/activities", h.handleCreateActivity)
	r.Patch("/activities/{activityID}", h.handlePatchActivity)
	r.Delete("/activities/{activityID}", h.handleDeleteActivity)
	r.Post("/accounts/{id}/deactivate", h.handleDeactivate)
}

func (h *accountHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts()
	if err != nil {
		h.log.Error().Err(err).Msg("list accounts failed")
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *accountHandlers) handleHoldings(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	holdings, err := h.svc.Holdings(id)
	if err != nil {
		h.log.Error().Err(err).Int64("account_id", id).Msg("holdings lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load holdings")
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *accountHandlers) handleListActivities(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	q := r.URL.Query()
	var typeFilter *domain.ActivityType
	if t := q.Get("type"); t != "" {
		at := domain.ActivityType(t)
		typeFilter = &at
	}
	var reviewedFilter *bool
	if rv := q.Get("reviewed"); rv != "" {
		b, err := strconv.ParseBool(rv)
		if err == nil {
			reviewedFilter = &b
		}
	}
	var from, to *time.Time
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse("2006-01-02", f); err == nil {
			from = &t
		}
	}
	if t := q.Get("to"); t != "" {
		if tt, err := time.Parse("2006-01-02", t); err == nil {
			to = &tt
		}
	}
	limit := 50
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	activities, err := h.svc.ListActivities(id, typeFilter, reviewedFilter, from, to, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Int64("account_id", id).Msg("list activities failed")
		writeError(w, http.StatusInternalServerError, "failed to list activities")
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

func (h *accountHandlers) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var a domain.Activity
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.AccountID = id
	activityID, err := h.svc.CreateManualActivity(a)
	if err != nil {
		h.log.Error().Err(err).Msg("create manual activity failed")
		writeError(w, http.StatusInternalServerError, "failed to create activity")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": activityID})
}

func (h *accountHandlers) handlePatchActivity(w http.ResponseWriter, r *http.Request) {
	// Synced activities have an immutable activity_date; this
	// core does not implement field-level patch semantics for manual
	// activities beyond delete+recreate, so it reports the one invariant.
	writeError(w, http.StatusForbidden, accountsvc.ErrImmutableActivityDate.Error())
}

func (h *accountHandlers) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "activityID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}
	if err := h.svc.DeleteActivity(id); err != nil {
		if errors.Is(err, accountsvc.ErrNotManual) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		h.log.Error().Err(err).Int64("activity_id", id).Msg("delete activity failed")
		writeError(w, http.StatusInternalServerError, "failed to delete activity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *accountHandlers) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var body struct {
		CreateClosingSnapshot bool   `json:"create_closing_snapshot"`
		SupersededByAccountID *int64 `json:"superseded_by_account_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	opts := accountsvc.DeactivateOptions{CreateClosingSnapshot: body.CreateClosingSnapshot, SupersededByAccountID: body.SupersededByAccountID}
	if err := h.svc.Deactivate(id, opts); err != nil {
		h.log.Error().Err(err).Int64("account_id", id).Msg("deactivate failed")
		writeError(w, http.StatusInternalServerError, "failed to deactivate account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
