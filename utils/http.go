package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBodyBytes bounds request bodies read through DecodeJSON
const DefaultMaxBodyBytes int64 = 64 << 20

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse acknowledges an operation without a result
type SuccessResponse struct {
	Success bool `json:"success"`
}

// AcceptedResponse acknowledges work scheduled in the background
type AcceptedResponse struct {
	Processing bool   `json:"processing"`
	TaskID     string `json:"task_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes data as a 200 OK response body
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes data as a 201 Created response body
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteAccepted writes a 202 Accepted response for a background task
func WriteAccepted(w http.ResponseWriter, taskID string) error {
	return WriteJSON(w, http.StatusAccepted, AcceptedResponse{Processing: true, TaskID: taskID})
}

// WriteSuccess writes {"success": true}
func WriteSuccess(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, "bad_request", message, details)
}

// WriteUnauthorized writes a 401 response with a challenge for both accepted schemes
func WriteUnauthorized(w http.ResponseWriter, code, message string) error {
	if code == "" {
		code = "unauthenticated"
	}
	if message == "" {
		message = "Authentication required"
	}
	w.Header().Add("WWW-Authenticate", `Basic realm="model-control-plane"`)
	w.Header().Add("WWW-Authenticate", "Bearer")
	return WriteError(w, http.StatusUnauthorized, code, message, nil)
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Access forbidden"
	}
	return WriteError(w, http.StatusForbidden, "forbidden", message, nil)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, "not_found", message, nil)
}

// WriteTooManyRequests writes a 429 Too Many Requests response
func WriteTooManyRequests(w http.ResponseWriter, message string, details map[string]interface{}) error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message, details)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, "internal_error", message, nil)
}

// WriteError writes the error envelope
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// DecodeJSON reads one JSON object from the request body into dst. Numbers are kept as
// json.Number so integers survive untouched. An empty body leaves dst unchanged.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("content type must be application/json, got %q", ct)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
