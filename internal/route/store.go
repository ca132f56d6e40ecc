package route

import (
	"context"
	"errors"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// ErrStoreUnavailable signals that the backing routing layer cannot be
// reached. Callers treat it as non-fatal-but-blocking: retry with backoff,
// never advance a stage on it, never roll back on it alone.
var ErrStoreUnavailable = errors.New("route store unavailable")

// Store is the traffic-weight control surface of the mesh. SetSplit is
// atomic from the caller's perspective: no partial weight update is ever
// observable.
type Store interface {
	GetSplit(ctx context.Context, service string) (models.TrafficSplit, error)
	SetSplit(ctx context.Context, service string, blueWeight int) error
}
