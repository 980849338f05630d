package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/click-ledger/internal/apperror"
	"github.com/sakif/click-ledger/internal/auth"
	"github.com/sakif/click-ledger/internal/model"
	"github.com/sakif/click-ledger/internal/service"
)

// ClickHandler serves the /api/clicks routes. Every route expects the
// Identity middleware to have run first.
type ClickHandler struct {
	errorWriter
	clicks *service.ClickService

	// recordMW wraps POST / only (rate limiting).
	recordMW []func(http.Handler) http.Handler
}

// NewClickHandler creates a ClickHandler. exposeDetail adds the wrapped
// cause to 500 responses; keep it off outside local debugging.
func NewClickHandler(clicks *service.ClickService, logger *slog.Logger, exposeDetail bool) *ClickHandler {
	return &ClickHandler{
		errorWriter: errorWriter{logger: logger, exposeDetail: exposeDetail},
		clicks:      clicks,
	}
}

// UseOnRecord adds middleware that runs only in front of HandleRecord.
// Call it before Routes.
func (h *ClickHandler) UseOnRecord(mw ...func(http.Handler) http.Handler) {
	h.recordMW = append(h.recordMW, mw...)
}

// Routes mounts the click endpoints on r. The caller applies auth.
func (h *ClickHandler) Routes(r chi.Router) {
	r.With(h.recordMW...).Post("/", h.HandleRecord)
	r.Get("/count", h.HandleCount)
	r.Get("/history", h.HandleHistory)
	r.Get("/stats", h.HandleStats)
	r.Get("/me", h.HandleMe)
	r.Delete("/logout", h.HandleLogout)
}

// identity reads the caller or writes a 401. The middleware guarantees one,
// so a miss means the route was mounted without it.
func (h *ClickHandler) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperror.Unauthenticated("valid authentication required"))
		return nil, false
	}
	return id, true
}

// HandleRecord records one click for the caller.
//
// HTTP: POST /api/clicks
// RESPONSE: 201 {"clickId": 42, "userId": "...", "timestamp": "..."}
func (h *ClickHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	receipt, err := h.clicks.Record(r.Context(), id.User())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

type countResponse struct {
	UserID      string `json:"userId"`
	TotalClicks int64  `json:"totalClicks"`
}

// HandleCount returns the caller's total.
//
// HTTP: GET /api/clicks/count
func (h *ClickHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	total, err := h.clicks.Count(r.Context(), id.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, countResponse{UserID: id.ID, TotalClicks: total})
}

type historyResponse struct {
	UserID string             `json:"userId"`
	Clicks []model.ClickEntry `json:"clicks"`
	Count  int                `json:"count"`
}

// HandleHistory lists the caller's clicks, newest first.
//
// HTTP: GET /api/clicks/history?limit=N
//
// QUERY PARAMETERS:
// limit is optional and defaults to 100. When present it must parse as a
// base-10 integer; range checking (1..1000) is the service's job.
func (h *ClickHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	limit := service.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, apperror.ValidationFailed("limit", "Limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	clicks, err := h.clicks.History(r.Context(), id.ID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		UserID: id.ID,
		Clicks: clicks,
		Count:  len(clicks),
	})
}

// HandleStats returns global totals and the leaderboard.
//
// HTTP: GET /api/clicks/stats
func (h *ClickHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}

	stats, err := h.clicks.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleMe returns the caller's stored profile and total.
//
// HTTP: GET /api/clicks/me
// 404 until the caller's first click creates the user.
func (h *ClickHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	me, err := h.clicks.Me(r.Context(), id.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, me)
}

type logoutResponse struct {
	DeletedClicks int64 `json:"deletedClicks"`
}

// HandleLogout deletes every click the caller owns. It does not end any
// session; the token stays valid until it expires.
//
// HTTP: DELETE /api/clicks/logout
func (h *ClickHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	deleted, err := h.clicks.Reset(r.Context(), id.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutResponse{DeletedClicks: deleted})
}
