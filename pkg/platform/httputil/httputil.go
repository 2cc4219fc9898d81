// Package httputil centralizes JSON encoding, request decoding, and domain
// error translation so handlers stay thin and error envelopes stay uniform.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "warden/pkg/domain-errors"
)

// errorEnvelope is the uniform JSON error body.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON encodes v with the given status. Encoding failures are logged by
// net/http's panic recovery; there is nothing useful to send after headers.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the uniform JSON envelope. Coded
// errors map to their HTTP status; anything uncoded is a 500 with a generic
// message so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	message := "internal error"
	var de *dErrors.DomainError
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		message = de.Message
	}
	if status == http.StatusBadGateway && errors.As(err, &de) {
		message = de.Message
	}

	WriteJSON(w, status, errorEnvelope{Error: string(code), Message: message})
}

// Decode parses the request body into T. On failure it writes a 400 envelope
// and returns ok=false so handlers can return early.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "malformed request body", "error", err)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return v, false
	}
	return v, true
}
