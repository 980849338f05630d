package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   h.writeError(w, r, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//   {"error": "not_found", "message": "user not found with id abc123"}
//
// 500 responses add an "incidentId". The same id is logged next to the real
// cause, so a user's bug report can be matched to the server log without the
// cause ever leaving the server.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"

	"github.com/sakif/click-ledger/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error      string `json:"error"`                // Machine-readable error type (e.g., "not_found")
	Message    string `json:"message"`              // Human-readable description
	Field      string `json:"field,omitempty"`      // Offending input on validation errors
	IncidentID string `json:"incidentId,omitempty"` // Only on 5xx
	Detail     string `json:"detail,omitempty"`     // Only when detail exposure is switched on
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE the body. Once Encode writes,
// the headers are on the wire and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorWriter turns errors into responses. Handlers embed it.
type errorWriter struct {
	logger       *slog.Logger
	exposeDetail bool
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrUnauthenticated → 401 unauthorized
//	ErrValidation      → 400 validation_error
//	ErrNotFound        → 404 not_found
//	ErrRateLimited     → 429 rate_limited
//	ErrStorage         → 500 storage_error
//	anything else      → 500 internal_error
//
// errors.Is() walks the whole chain, so a storage AppError wrapped by
// fmt.Errorf("...: %w") still maps to 500 storage_error.
func (e errorWriter) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	hasAppErr := errors.As(err, &appErr)

	message := func(fallback string) string {
		if hasAppErr && appErr.Message != "" {
			return appErr.Message
		}
		return fallback
	}

	switch {
	case errors.Is(err, apperror.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: message("valid authentication required"),
		})
	case errors.Is(err, apperror.ErrValidation):
		resp := ErrorResponse{Error: "validation_error", Message: message("invalid request")}
		if hasAppErr {
			resp.Field = appErr.Field
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, apperror.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: message("resource not found"),
		})
	case errors.Is(err, apperror.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:   "rate_limited",
			Message: message("too many requests"),
		})
	case errors.Is(err, apperror.ErrStorage):
		e.writeInternal(w, r, "storage_error", message("A storage error occurred"), err)
	default:
		// NEVER expose raw error text by default: it may contain SQL, file
		// paths or upstream responses.
		e.writeInternal(w, r, "internal_error", "An internal error occurred", err)
	}
}

func (e errorWriter) writeInternal(w http.ResponseWriter, r *http.Request, kind, message string, err error) {
	incident := xid.New().String()

	e.logger.Error("request failed",
		slog.String("incident_id", incident),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	resp := ErrorResponse{
		Error:      kind,
		Message:    message,
		IncidentID: incident,
	}
	if e.exposeDetail {
		resp.Detail = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}
