package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/shiftgate/internal/audit"
	"github.com/platformbuilds/shiftgate/internal/metrics"
	"github.com/platformbuilds/shiftgate/internal/models"
	"github.com/platformbuilds/shiftgate/internal/notify"
	"github.com/platformbuilds/shiftgate/internal/route"
	"github.com/platformbuilds/shiftgate/internal/utils"
)

// defaultMaxSourceFailures bounds consecutive metric-source errors before a
// run is aborted as an infrastructure failure rather than left unmonitored.
const defaultMaxSourceFailures = 10

// RollbackEngine runs one evaluation loop per in-flight service migration
// and owns the authoritative "healthy to continue" verdict. On a trigger
// failure it cancels the run, forces the split back to 100% blue, records a
// RollbackEvent, and notifies.
type RollbackEngine struct {
	logger            *slog.Logger
	store             route.Store
	evaluator         *Evaluator
	notifier          notify.Notifier
	recorder          audit.Recorder
	interval          time.Duration
	writeAttempts     int
	maxSourceFailures int
	latencies         *utils.LatencyTracker

	mu       sync.Mutex
	degraded map[string]bool
	events   map[string][]models.RollbackEvent
}

// Handle identifies one running evaluation loop.
type Handle struct {
	service string
	stop    context.CancelFunc
	done    chan struct{}
}

// NewRollbackEngine constructs the engine. interval defaults to 30s, the
// upper bound on tolerable detection latency.
func NewRollbackEngine(
	logger *slog.Logger,
	store route.Store,
	evaluator *Evaluator,
	notifier notify.Notifier,
	recorder audit.Recorder,
	interval time.Duration,
	writeAttempts int,
) *RollbackEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if writeAttempts < 1 {
		writeAttempts = 5
	}
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &RollbackEngine{
		logger:            logger,
		store:             store,
		evaluator:         evaluator,
		notifier:          notifier,
		recorder:          recorder,
		interval:          interval,
		writeAttempts:     writeAttempts,
		maxSourceFailures: defaultMaxSourceFailures,
		latencies:         utils.NewLatencyTracker(1024),
		degraded:          make(map[string]bool),
		events:            make(map[string][]models.RollbackEvent),
	}
}

// Start begins polling all configured triggers for the service at the fixed
// interval. cancelRun is the run context's cancel; the fail path invokes it
// before touching the route store so no sequencer write can race the
// rollback write. Loops for different services are fully independent.
func (e *RollbackEngine) Start(ctx context.Context, service models.Service, triggers []models.Trigger, cancelRun context.CancelCauseFunc) *Handle {
	loopCtx, stop := context.WithCancel(ctx)
	handle := &Handle{service: service.Name, stop: stop, done: make(chan struct{})}

	states := make([]*models.TriggerState, len(triggers))
	for i, trigger := range triggers {
		states[i] = &models.TriggerState{Service: service.Name, Signal: trigger.Signal}
	}

	go e.loop(loopCtx, service.Name, triggers, states, cancelRun, handle.done)
	return handle
}

// Stop halts the service's evaluation loop and waits for it to exit, then
// releases the per-service degraded latch. TriggerState for the service dies
// with the loop.
func (e *RollbackEngine) Stop(handle *Handle) {
	handle.stop()
	<-handle.done

	e.mu.Lock()
	delete(e.degraded, handle.service)
	e.mu.Unlock()
}

// Events returns the rollback events recorded for a service, oldest first.
func (e *RollbackEngine) Events(service string) []models.RollbackEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.RollbackEvent(nil), e.events[service]...)
}

func (e *RollbackEngine) loop(ctx context.Context, service string, triggers []models.Trigger, states []*models.TriggerState, cancelRun context.CancelCauseFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	errStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cycleStart := time.Now()
		for i, trigger := range triggers {
			result, err := e.evaluator.Evaluate(ctx, service, trigger, states[i])
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errStreak++
				metrics.ObserveTriggerEvaluation(trigger.Signal, metrics.OutcomeError)
				e.logger.Warn("trigger evaluation failed",
					slog.String("service", service),
					slog.String("signal", trigger.Signal),
					slog.Int("error_streak", errStreak),
					slog.Any("error", err))
				if errStreak >= e.maxSourceFailures {
					e.logger.Error("metric source unreachable, aborting run",
						slog.String("service", service),
						slog.Int("consecutive_errors", errStreak))
					cancelRun(fmt.Errorf("%w: metric source unreachable after %d consecutive query errors", ErrInfrastructure, errStreak))
					return
				}
				continue
			}
			errStreak = 0

			switch result.Outcome {
			case OutcomeSkipped:
				metrics.ObserveTriggerEvaluation(trigger.Signal, metrics.OutcomeSkipped)
				e.logger.Debug("trigger evaluation inconclusive",
					slog.String("service", service),
					slog.String("signal", trigger.Signal),
					slog.Int("samples", result.Samples))
			case OutcomeFail:
				metrics.ObserveTriggerEvaluation(trigger.Signal, metrics.OutcomeFail)
				e.fail(ctx, service, result, cancelRun)
			default:
				metrics.ObserveTriggerEvaluation(trigger.Signal, metrics.OutcomePass)
			}
		}
		e.latencies.Observe(time.Since(cycleStart))
		if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
			e.logger.Debug("evaluation cycle latency",
				slog.String("service", service),
				slog.Duration("p95", e.latencies.Percentile(95)),
				slog.Int("cycles", count))
		}
	}
}

// fail handles one trigger failure. First fail wins the rollback action for
// a service; later fails during the degraded state are recorded as events
// only.
func (e *RollbackEngine) fail(ctx context.Context, service string, result Result, cancelRun context.CancelCauseFunc) {
	event := models.RollbackEvent{
		ID:            uuid.NewString(),
		Service:       service,
		Trigger:       result.Trigger,
		ObservedValue: result.Value,
		Timestamp:     time.Now().UTC(),
	}

	e.mu.Lock()
	first := !e.degraded[service]
	e.degraded[service] = true
	e.events[service] = append(e.events[service], event)
	e.mu.Unlock()

	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelRecord()
	if err := e.recorder.RecordRollback(recordCtx, event); err != nil {
		e.logger.Warn("failed to persist rollback event",
			slog.String("service", service), slog.Any("error", err))
	}

	if !first {
		e.logger.Debug("trigger fired on already degraded service",
			slog.String("service", service),
			slog.String("signal", result.Trigger.Signal),
			slog.Float64("observed", result.Value))
		return
	}

	e.logger.Error("trigger fired, rolling back",
		slog.String("service", service),
		slog.String("signal", result.Trigger.Signal),
		slog.Float64("observed", result.Value),
		slog.Float64("threshold", result.Trigger.Threshold),
		slog.String("comparison", string(result.Trigger.Comparison)))
	metrics.ObserveRollback(service)

	// Disable further sequencer writes before touching the route store.
	cancelRun(&RollbackError{Trigger: result.Trigger, Value: result.Value})

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancelWrite()
	if err := setSplitWithRetry(writeCtx, e.store, e.logger, service, 100, e.writeAttempts); err != nil {
		e.logger.Error("rollback write failed, manual intervention required",
			slog.String("service", service), slog.Any("error", err))
	}

	trigger := result.Trigger
	notifyCtx, cancelNotify := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelNotify()
	sendErr := e.notifier.Send(notifyCtx, notify.Event{
		Kind:          notify.KindRollback,
		Service:       service,
		Severity:      models.SeverityCritical,
		Message:       "automated rollback: " + result.Trigger.Signal + " violated",
		BlueWeight:    100,
		GreenWeight:   0,
		Trigger:       &trigger,
		ObservedValue: result.Value,
		Timestamp:     event.Timestamp,
	})
	if sendErr != nil {
		e.logger.Warn("rollback notification failed",
			slog.String("service", service), slog.Any("error", sendErr))
	}
}
