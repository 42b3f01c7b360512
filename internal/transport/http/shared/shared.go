// Package shared centralizes the JSON envelopes used by every handler so
// error responses stay consistent across the API.
package shared

import (
	"encoding/json"
	"net/http"

	dErrors "sitestats/pkg/domain-errors"
)

// WriteJSON writes v with the given status. Encoding failures are swallowed;
// at that point the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope. Internal
// causes stay out of the response body.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": dErrors.MessageOf(err),
	})
}
