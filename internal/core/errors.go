package core

import (
	"errors"
)

// Enumerated error kinds. Services wrap these with fmt.Errorf("...: %w", ...)
// so callers can classify with errors.Is while keeping context.
var (
	// ErrInvalidInput marks a malformed request (bad VIN length, unknown
	// dealership). Surfaced to the caller; never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrIngestConflict marks a duplicate import id or a manifest race.
	ErrIngestConflict = errors.New("ingest conflict")

	// ErrStoreUnavailable marks transport loss to the store. Retried once
	// internally, then surfaced.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDeadlineExceeded marks a per-adapter or per-operation timeout.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrMixedSizeRejected marks an emitter pre-flight failure: a
	// variable-data CSV must carry a single size value.
	ErrMixedSizeRejected = errors.New("mixed sizes in one order")

	// ErrPartialEmission marks the state where artifact files were written
	// but the VIN log append failed. Requires operator intervention.
	ErrPartialEmission = errors.New("files emitted without vin log")

	// ErrCancelled marks cooperative cancellation.
	ErrCancelled = errors.New("cancelled")
)
