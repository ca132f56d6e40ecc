package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/shiftgate/internal/models"
	"github.com/platformbuilds/shiftgate/internal/notify"
)

func newTestRun(service string, stages []int) *runTracker {
	return newRunTracker(models.MigrationRun{
		ID:      uuid.NewString(),
		Service: service,
		Stages:  append([]int(nil), stages...),
		Status:  models.RunPending,
	})
}

func TestSequencerAdvancesThroughAllStages(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	sequencer := NewStageSequencer(nil, store, notifier, 10*time.Millisecond, 3)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	tracker := newTestRun("auth", []int{50, 30, 0})
	sequencer.Run(ctx, tracker)

	run := tracker.Snapshot()
	if run.Status != models.RunSucceeded {
		t.Fatalf("expected Succeeded, got %s", run.Status)
	}
	if run.StartedAt.IsZero() || run.FinishedAt.IsZero() {
		t.Fatal("expected run timestamps to be set")
	}

	writes := store.writesFor("auth")
	if len(writes) != 3 {
		t.Fatalf("expected 3 weight writes, got %d", len(writes))
	}
	for i, want := range []int{50, 30, 0} {
		if writes[i].blueWeight != want {
			t.Fatalf("write %d: expected blue %d, got %d", i, want, writes[i].blueWeight)
		}
	}

	if got := len(notifier.byKind(notify.KindStageComplete)); got != 3 {
		t.Fatalf("expected 3 stage-complete events, got %d", got)
	}
	if got := len(notifier.byKind(notify.KindMigrationSucceeded)); got != 1 {
		t.Fatalf("expected 1 migration-succeeded event, got %d", got)
	}
}

func TestSequencerStopsOnRollbackCancellation(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	sequencer := NewStageSequencer(nil, store, notifier, 500*time.Millisecond, 3)

	ctx, cancel := context.WithCancelCause(context.Background())
	trigger := latencyTrigger(1)

	// Cancel during the first settle window, as the rollback engine would.
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel(&RollbackError{Trigger: trigger, Value: 5000})
	}()

	tracker := newTestRun("auth", []int{50, 30, 0})
	sequencer.Run(ctx, tracker)

	run := tracker.Snapshot()
	if run.Status != models.RunRolledBack {
		t.Fatalf("expected RolledBack, got %s", run.Status)
	}
	if run.FailedTrigger == nil || run.FailedTrigger.Signal != "p95_latency_ms" {
		t.Fatalf("expected failed trigger recorded, got %+v", run.FailedTrigger)
	}
	if run.ObservedValue != 5000 {
		t.Fatalf("expected observed value 5000, got %g", run.ObservedValue)
	}

	// The sequencer must not write again after cancellation; the rollback
	// write belongs to the rollback engine.
	writes := store.writesFor("auth")
	if len(writes) != 1 || writes[0].blueWeight != 50 {
		t.Fatalf("expected single stage write of 50, got %+v", writes)
	}
	if got := len(notifier.byKind(notify.KindAbort)); got != 0 {
		t.Fatalf("rollback must not emit an abort event, got %d", got)
	}
}

func TestSequencerOperatorAbort(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	sequencer := NewStageSequencer(nil, store, notifier, 500*time.Millisecond, 3)

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel(ErrOperatorAbort)
	}()

	tracker := newTestRun("payments", []int{90, 0})
	sequencer.Run(ctx, tracker)

	run := tracker.Snapshot()
	if run.Status != models.RunAborted {
		t.Fatalf("expected Aborted, got %s", run.Status)
	}
	if run.AbortReason != models.ReasonOperator {
		t.Fatalf("expected operator abort reason, got %s", run.AbortReason)
	}
	if got := len(notifier.byKind(notify.KindAbort)); got != 1 {
		t.Fatalf("expected 1 abort event, got %d", got)
	}
}

func TestSequencerAbortsWhenStoreStaysUnavailable(t *testing.T) {
	store := &fakeStore{failures: 10}
	notifier := &fakeNotifier{}
	sequencer := NewStageSequencer(nil, store, notifier, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	tracker := newTestRun("auth", []int{50, 0})
	sequencer.Run(ctx, tracker)

	run := tracker.Snapshot()
	if run.Status != models.RunAborted {
		t.Fatalf("expected Aborted, got %s", run.Status)
	}
	if run.AbortReason != models.ReasonInfrastructure {
		t.Fatalf("expected infrastructure abort reason, got %s", run.AbortReason)
	}
	if got := len(notifier.byKind(notify.KindAbort)); got != 1 {
		t.Fatalf("expected 1 abort event, got %d", got)
	}
}

func TestSequencerRetriesTransientStoreFailure(t *testing.T) {
	// One transient failure, then success; the run must still succeed.
	store := &fakeStore{failures: 1}
	sequencer := NewStageSequencer(nil, store, &fakeNotifier{}, 10*time.Millisecond, 3)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	tracker := newTestRun("auth", []int{0})
	sequencer.Run(ctx, tracker)

	if run := tracker.Snapshot(); run.Status != models.RunSucceeded {
		t.Fatalf("expected Succeeded after retry, got %s", run.Status)
	}
	if writes := store.writesFor("auth"); len(writes) != 1 || writes[0].blueWeight != 0 {
		t.Fatalf("expected final write of 0, got %+v", writes)
	}
}
