package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/peerlink-core/internal/catalog"
	"github.com/nerrad567/peerlink-core/internal/model"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
	"github.com/nerrad567/peerlink-core/internal/relay"
)

// Error is the body of a structured error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse wraps Error as {"error": {...}}.
type errorResponse struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeForbidden   = "forbidden"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeTimeout     = "timeout"
	ErrCodeUnavailable = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: Error{Code: code, Message: message}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classify maps a domain error to a response status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidCommand),
		errors.Is(err, model.ErrInvalidHostID),
		errors.Is(err, relay.ErrInvalidEnvelope),
		errors.Is(err, catalog.ErrInvalidDraft),
		errors.Is(err, recordstore.ErrInvalidRecord),
		errors.Is(err, recordstore.ErrInvalidField):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, recordstore.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, catalog.ErrForeignCommand):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, catalog.ErrLeaseHeld),
		errors.Is(err, catalog.ErrInvalidTransition),
		errors.Is(err, recordstore.ErrConflictExceeded):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, catalog.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, relay.ErrNotConfigured),
		errors.Is(err, recordstore.ErrNotConfigured),
		errors.Is(err, catalog.ErrPublisherClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError writes err with a status chosen by classify. Internal
// errors are logged and their detail is not returned to the caller.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// decodeJSON reads the request body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
