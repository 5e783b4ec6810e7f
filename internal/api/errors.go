package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alecgard/taskmate/internal/team"
)

// maxBodySize is the maximum allowed request body size (64 KB).
const maxBodySize = 64 << 10

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// listEnvelope wraps list responses.
type listEnvelope struct {
	Data any `json:"data"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeList writes items wrapped in the list envelope.
func writeList(w http.ResponseWriter, items any) {
	writeJSON(w, http.StatusOK, listEnvelope{Data: items})
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	dec := json.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeServiceError maps an engine error onto a status code and error code.
// Messages of typed engine errors are client-safe; anything else is logged
// and reported as an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var te *team.Error
	message := "request could not be completed"
	if errors.As(err, &te) {
		message = te.Message
	}

	switch team.Kind(err) {
	case team.ErrValidation:
		writeError(w, http.StatusUnprocessableEntity, "validation_error", message)
	case team.ErrConflict:
		writeError(w, http.StatusConflict, "conflict", message)
	case team.ErrForbidden:
		writeError(w, http.StatusForbidden, "forbidden", message)
	case team.ErrNotFound:
		writeError(w, http.StatusNotFound, "not_found", message)
	case team.ErrInvariant:
		writeError(w, http.StatusConflict, "invariant_violation", message)
	case team.ErrUnavailable:
		slog.Warn("team store unavailable", "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "team store is temporarily unavailable, retry shortly")
	default:
		slog.Error("unhandled error", "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
