package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/printlot-io/printlot/internal/core"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the enumerated error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := ""
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrIngestConflict):
		status, kind = http.StatusConflict, "ingest_conflict"
	case errors.Is(err, core.ErrMixedSizeRejected):
		status, kind = http.StatusUnprocessableEntity, "mixed_size_rejected"
	case errors.Is(err, core.ErrStoreUnavailable):
		status, kind = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, core.ErrDeadlineExceeded):
		status, kind = http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, core.ErrPartialEmission):
		status, kind = http.StatusInternalServerError, "partial_emission"
	case errors.Is(err, core.ErrCancelled):
		status, kind = http.StatusServiceUnavailable, "cancelled"
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
