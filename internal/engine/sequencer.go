package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/platformbuilds/shiftgate/internal/metrics"
	"github.com/platformbuilds/shiftgate/internal/models"
	"github.com/platformbuilds/shiftgate/internal/notify"
	"github.com/platformbuilds/shiftgate/internal/route"
)

// StageSequencer advances one service through its ordered traffic-weight
// stages, pausing for the settle window between stages. It is the only
// writer to the route store while a run is healthy; the rollback path takes
// over only after cancelling the run context.
type StageSequencer struct {
	logger      *slog.Logger
	store       route.Store
	notifier    notify.Notifier
	settle      time.Duration
	maxAttempts int
}

// NewStageSequencer constructs a sequencer.
func NewStageSequencer(logger *slog.Logger, store route.Store, notifier notify.Notifier, settle time.Duration, maxAttempts int) *StageSequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if settle <= 0 {
		settle = 5 * time.Minute
	}
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &StageSequencer{
		logger:      logger,
		store:       store,
		notifier:    notifier,
		settle:      settle,
		maxAttempts: maxAttempts,
	}
}

// Run drives the tracked run to a terminal state. The context must be a
// cancel-cause context owned by the orchestrator: cancellation by the
// rollback engine carries a RollbackError, operator aborts carry
// ErrOperatorAbort, and anything else is treated as an operator-initiated
// shutdown.
func (s *StageSequencer) Run(ctx context.Context, t *runTracker) {
	t.Update(func(r *models.MigrationRun) {
		r.Status = models.RunInProgress
		r.StartedAt = time.Now().UTC()
	})
	run := t.Snapshot()

	for i, weight := range run.Stages {
		if cause := context.Cause(ctx); cause != nil {
			s.finishCancelled(ctx, t, cause)
			return
		}
		t.Update(func(r *models.MigrationRun) { r.CurrentStage = i })

		if err := setSplitWithRetry(ctx, s.store, s.logger, run.Service, weight, s.maxAttempts); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				s.finishCancelled(ctx, t, cause)
				return
			}
			s.logger.Error("stage weight write failed",
				slog.String("service", run.Service),
				slog.Int("stage", i),
				slog.Int("blue_weight", weight),
				slog.Any("error", err))
			s.terminate(ctx, t, models.RunAborted, models.ReasonInfrastructure)
			return
		}
		s.logger.Info("stage applied",
			slog.String("service", run.Service),
			slog.Int("stage", i),
			slog.Int("blue_weight", weight),
			slog.Int("green_weight", 100-weight))

		// The rollback engine's evaluation loop keeps polling throughout the
		// settle window; any trigger failure cancels this context.
		settleStart := time.Now()
		timer := time.NewTimer(s.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finishCancelled(ctx, t, context.Cause(ctx))
			return
		case <-timer.C:
			metrics.ObserveSettle(time.Since(settleStart))
		}

		metrics.ObserveStageAdvance(run.Service)
		s.sendEvent(ctx, notify.Event{
			Kind:        notify.KindStageComplete,
			Service:     run.Service,
			Severity:    models.SeverityInfo,
			Message:     fmt.Sprintf("%s: stage %d settled at blue=%d green=%d", run.Service, i, weight, 100-weight),
			BlueWeight:  weight,
			GreenWeight: 100 - weight,
			Timestamp:   time.Now().UTC(),
		})
	}

	t.Update(func(r *models.MigrationRun) {
		r.Status = models.RunSucceeded
		r.FinishedAt = time.Now().UTC()
	})
	s.logger.Info("migration succeeded", slog.String("service", run.Service))
	s.sendEvent(ctx, notify.Event{
		Kind:        notify.KindMigrationSucceeded,
		Service:     run.Service,
		Severity:    models.SeverityInfo,
		Message:     run.Service + ": migration complete, all traffic on green",
		BlueWeight:  0,
		GreenWeight: 100,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *StageSequencer) finishCancelled(ctx context.Context, t *runTracker, cause error) {
	var rollback *RollbackError
	switch {
	case errors.As(cause, &rollback):
		// The rollback engine already forced the split and notified.
		t.Update(func(r *models.MigrationRun) {
			r.Status = models.RunRolledBack
			trigger := rollback.Trigger
			r.FailedTrigger = &trigger
			r.ObservedValue = rollback.Value
			r.FinishedAt = time.Now().UTC()
		})
	case errors.Is(cause, ErrInfrastructure):
		s.terminate(ctx, t, models.RunAborted, models.ReasonInfrastructure)
	default:
		s.terminate(ctx, t, models.RunAborted, models.ReasonOperator)
	}
}

func (s *StageSequencer) terminate(ctx context.Context, t *runTracker, status models.RunStatus, reason models.AbortReason) {
	t.Update(func(r *models.MigrationRun) {
		r.Status = status
		r.AbortReason = reason
		r.FinishedAt = time.Now().UTC()
	})
	run := t.Snapshot()
	severity := models.SeverityWarning
	s.sendEvent(ctx, notify.Event{
		Kind:      notify.KindAbort,
		Service:   run.Service,
		Severity:  severity,
		Message:   fmt.Sprintf("%s: migration aborted (%s)", run.Service, reason),
		Timestamp: time.Now().UTC(),
	})
}

func (s *StageSequencer) sendEvent(ctx context.Context, event notify.Event) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.notifier.Send(sendCtx, event); err != nil {
		s.logger.Warn("notification failed",
			slog.String("service", event.Service),
			slog.String("kind", string(event.Kind)),
			slog.Any("error", err))
	}
}
