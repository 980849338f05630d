package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/click-ledger/internal/auth"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated utility routes.
type HealthHandler struct {
	errorWriter
	environment string
	db          Pinger
}

// NewHealthHandler creates a HealthHandler. db may be nil, in which case
// /health never checks storage.
func NewHealthHandler(environment string, db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		errorWriter: errorWriter{logger: logger},
		environment: environment,
		db:          db,
	}
}

type healthResponse struct {
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
}

// HandleHealth reports liveness.
//
// HTTP: GET /health
// 200 {"status":"ok",...} normally; 503 {"status":"error",...} when the
// database can't be pinged within a second.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Message:     "Backend is running",
		Timestamp:   time.Now().UTC(),
		Environment: h.environment,
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("health check: database ping failed", slog.String("error", err.Error()))
			resp.Status = "error"
			resp.Message = "Database unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type testUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type testResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	User      *testUser `json:"user,omitempty"`
}

// HandleTest is a public smoke-test endpoint. Mounted behind OptionalAuth,
// it echoes the caller's identity when a valid token is sent.
//
// HTTP: GET /api/test
func (h *HealthHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	resp := testResponse{
		Success:   true,
		Message:   "API is functional",
		Timestamp: time.Now().UTC(),
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		resp.User = &testUser{ID: id.ID, Email: id.Email, Name: id.Name}
	}
	writeJSON(w, http.StatusOK, resp)
}

type notFoundResponse struct {
	Error              string             `json:"error"`
	Message            string             `json:"message"`
	AvailableEndpoints availableEndpoints `json:"availableEndpoints"`
}

type availableEndpoints struct {
	Health  string         `json:"health"`
	Test    string         `json:"test"`
	Metrics string         `json:"metrics"`
	Clicks  clickEndpoints `json:"clicks"`
}

type clickEndpoints struct {
	Record  string `json:"record"`
	Count   string `json:"count"`
	History string `json:"history"`
	Stats   string `json:"stats"`
	Me      string `json:"me"`
	Logout  string `json:"logout"`
}

var endpoints = availableEndpoints{
	Health:  "GET /health",
	Test:    "GET /api/test",
	Metrics: "GET /metrics",
	Clicks: clickEndpoints{
		Record:  "POST /api/clicks",
		Count:   "GET /api/clicks/count",
		History: "GET /api/clicks/history?limit=100",
		Stats:   "GET /api/clicks/stats",
		Me:      "GET /api/clicks/me",
		Logout:  "DELETE /api/clicks/logout",
	},
}

// HandleNotFound lists the real endpoints for anything unmatched.
func (h *HealthHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, notFoundResponse{
		Error:              "not_found",
		Message:            fmt.Sprintf("Endpoint %s %s not found", r.Method, r.URL.Path),
		AvailableEndpoints: endpoints,
	})
}

// HandleMethodNotAllowed answers a known path used with the wrong method.
func (h *HealthHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:   "method_not_allowed",
		Message: fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path),
	})
}
