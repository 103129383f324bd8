// Package endpoints provides the HTTP handlers of the bridge
package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// sendError sends a JSON error response
func sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	sendJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}
