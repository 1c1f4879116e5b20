// Package httputil holds the small JSON request/response helpers shared by
// every service's HTTP surface, adapted from the teacher's internal/api
// helpers and generalized across packages instead of duplicated per package.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/otcsettle/controlplane/internal/apperr"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid json: multiple objects")
	}
	return nil
}

// WriteError renders err as {status, error_code, reason} per §7's error
// envelope. Unrecognized errors are mapped to a generic 500 INTERNAL_ERROR
// rather than leaking internals.
func WriteError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		WriteJSON(w, ae.Status, map[string]any{
			"status":     ae.Status,
			"error_code": ae.Code,
			"reason":     ae.Reason,
		})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, map[string]any{
		"status":     http.StatusInternalServerError,
		"error_code": "INTERNAL_ERROR",
		"reason":     err.Error(),
	})
}
