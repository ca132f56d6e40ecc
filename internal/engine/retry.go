package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/platformbuilds/shiftgate/internal/metrics"
	"github.com/platformbuilds/shiftgate/internal/route"
	"github.com/platformbuilds/shiftgate/internal/utils"
)

// setSplitWithRetry writes a traffic weight with bounded exponential backoff
// while the route store is unavailable. Any other error fails immediately.
// Exhausting the attempt budget surfaces as ErrInfrastructure.
func setSplitWithRetry(ctx context.Context, store route.Store, logger *slog.Logger, service string, blueWeight, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := store.SetSplit(ctx, service, blueWeight)
		if err == nil {
			return nil
		}
		if !errors.Is(err, route.ErrStoreUnavailable) {
			return err
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		metrics.ObserveRouteRetry(service)
		delay := utils.Backoff(attempt, 500*time.Millisecond, 10*time.Second)
		logger.Warn("route store unavailable, retrying",
			slog.String("service", service),
			slog.Int("blue_weight", blueWeight),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: set split for %s after %d attempts: %v", ErrInfrastructure, service, attempts, lastErr)
}
