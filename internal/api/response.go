package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/SleepyXm/SynapseR/internal/conversation"
	"github.com/SleepyXm/SynapseR/internal/llm"
	"github.com/SleepyXm/SynapseR/internal/log"
)

// ValidationError reports a malformed request. It maps to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code. Buffer-first
// so headers only go out after successful encoding, which lets encoding
// failures still produce a proper 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("failed to write response body", "error", err)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorBody{Error: code, Message: message}, logger)
}

// writeDomainError maps a domain error onto its HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error, logger log.Logger) {
	status, code := mapError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Internal detail stays in the logs.
		logger.Error("request failed", "error", err)
		message = "internal server error"
	}
	writeError(w, status, code, message, logger)
}

// mapError translates domain sentinel errors to HTTP status codes.
func mapError(err error) (status int, code string) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, llm.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
