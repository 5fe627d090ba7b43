package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error envelope returned by every route. Error carries the
// upstream error text and is omitted for client errors.
type ErrorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	RunStatus string `json:"run_status,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, body ErrorBody) {
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	WriteJSON(w, statusCode, body)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, ErrorBody{Message: message})
}

func WriteInternalError(w http.ResponseWriter, requestID, message string, err error) {
	body := ErrorBody{Message: message}
	if err != nil {
		body.Error = err.Error()
	}
	WriteError(w, requestID, http.StatusInternalServerError, body)
}

func WriteContentBlockedError(w http.ResponseWriter, requestID, message, detail string) {
	WriteError(w, requestID, http.StatusUnavailableForLegalReasons, ErrorBody{Message: message, Error: detail})
}
