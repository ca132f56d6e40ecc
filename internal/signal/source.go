package signal

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientSamples marks an inconclusive query: fewer samples exist in
// the window than the configured minimum. It is neither a pass nor a fail
// and must not alter consecutive-failure counts.
var ErrInsufficientSamples = errors.New("insufficient samples in window")

// Source returns recent numeric samples for a named signal and service.
// Signal names are selector strings and may carry label-style arguments,
// e.g. "constitutional_hash_mismatch{expected=cdd01ef066bc6cf2}"; adapters
// pass the selector through opaquely.
type Source interface {
	Query(ctx context.Context, service, signal string, window time.Duration) (value float64, samples int, err error)
}
