// Package httputil holds the JSON response helpers shared by handlers and
// middleware.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/supplychain/internal/app/notify"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes the error envelope, tagging the request trace id.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	body := ErrorBody{Code: code, Message: message, Details: details}
	if r != nil {
		body.TraceID = notify.TraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", message, nil)
}
