package audit

import (
	"context"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// Recorder persists terminal migration runs and rollback events for later
// inspection. All operations are best effort from the engine's perspective:
// recording failures are logged and never block a rollback.
type Recorder interface {
	RecordRun(ctx context.Context, run models.MigrationRun) error
	RecordRollback(ctx context.Context, event models.RollbackEvent) error
	Close() error
}

// NoopRecorder implements Recorder but never stores data.
type NoopRecorder struct{}

// RecordRun discards the run and returns nil.
func (NoopRecorder) RecordRun(context.Context, models.MigrationRun) error { return nil }

// RecordRollback discards the event and returns nil.
func (NoopRecorder) RecordRollback(context.Context, models.RollbackEvent) error { return nil }

// Close is a no-op.
func (NoopRecorder) Close() error { return nil }
