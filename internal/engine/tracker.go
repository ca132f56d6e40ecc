package engine

import (
	"sync"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// runTracker guards a MigrationRun so the sequencer can mutate it while
// status queries read concurrent snapshots.
type runTracker struct {
	mu  sync.Mutex
	run models.MigrationRun
}

func newRunTracker(run models.MigrationRun) *runTracker {
	return &runTracker{run: run}
}

// Update applies fn while holding the lock.
func (t *runTracker) Update(fn func(*models.MigrationRun)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.run)
}

// Snapshot returns a deep copy safe to hand out.
func (t *runTracker) Snapshot() models.MigrationRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := t.run
	snapshot.Stages = append([]int(nil), t.run.Stages...)
	if t.run.FailedTrigger != nil {
		trigger := *t.run.FailedTrigger
		snapshot.FailedTrigger = &trigger
	}
	return snapshot
}
