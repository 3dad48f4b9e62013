// Package httpx holds the tiny JSON request/response helpers every
// pkg/api/* handler package shares, centralizing the apierr.Kind -> HTTP
// status mapping spec.md §6/§7 define. Grounded on the dividends/
// rebalancing handlers' own per-package writeJSON helper in the teacher's
// pack (aristath-sentinel), pulled up one level since four handler
// packages here need the same apierr-aware error response shape.
package httpx

import (
	"encoding/json"
	"net/http"

	"csa-margin-engine/pkg/core/apierr"
)

// WriteJSON encodes data as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err to spec.md §7's taxonomy, reporting unmapped errors as
// InternalError. An *apierr.Error's Kind/Remedy are surfaced to the
// caller; any other error is reported as a 500 with its bare message.
func WriteError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		body := map[string]interface{}{"error": apiErr.Kind, "message": apiErr.Message}
		if apiErr.Remedy != "" {
			body["remedy"] = apiErr.Remedy
		}
		WriteJSON(w, apierr.HTTPStatus(apiErr.Kind), body)
		return
	}
	WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error":   apierr.KindInternal,
		"message": err.Error(),
	})
}

// DecodeJSON decodes r's body into dst, reporting an InvalidInput apierr on
// malformed JSON.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.InvalidInput("malformed request body: %v", err)
	}
	return nil
}
