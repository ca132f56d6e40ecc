package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/shiftgate/internal/audit"
	"github.com/platformbuilds/shiftgate/internal/metrics"
	"github.com/platformbuilds/shiftgate/internal/models"
	"github.com/platformbuilds/shiftgate/internal/notify"
	"github.com/platformbuilds/shiftgate/internal/route"
)

// OrchestratorParams bundles the orchestrator's collaborators and plan.
type OrchestratorParams struct {
	Logger        *slog.Logger
	Store         route.Store
	Rollback      *RollbackEngine
	Sequencer     *StageSequencer
	Notifier      notify.Notifier
	Recorder      audit.Recorder
	Services      []models.Service
	Triggers      []models.Trigger
	Stages        []int
	WriteAttempts int
}

type activeRun struct {
	tracker *runTracker
	cancel  context.CancelCauseFunc
}

// Orchestrator sequences migrations across services in dependency-rank order
// and exposes run status, abort, and event queries to the API layer. One
// service migrates at a time; a failed service stops the fleet run before any
// higher-rank service is touched.
type Orchestrator struct {
	logger        *slog.Logger
	store         route.Store
	rollback      *RollbackEngine
	sequencer     *StageSequencer
	notifier      notify.Notifier
	recorder      audit.Recorder
	services      []models.Service
	triggers      []models.Trigger
	stages        []int
	writeAttempts int

	mu        sync.Mutex
	active    map[string]*activeRun
	runs      []*runTracker
	migrating bool
}

// NewOrchestrator validates the plan and builds the orchestrator. Plans with
// no services, no triggers, or a non-monotonic stage list are rejected.
func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	if p.Store == nil || p.Rollback == nil || p.Sequencer == nil {
		return nil, fmt.Errorf("%w: store, rollback engine, and sequencer are required", ErrInvalidPlan)
	}
	if len(p.Services) == 0 {
		return nil, fmt.Errorf("%w: no services configured", ErrInvalidPlan)
	}
	if len(p.Triggers) == 0 {
		return nil, fmt.Errorf("%w: no rollback triggers configured", ErrInvalidPlan)
	}
	if err := validateStages(p.Stages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Notifier == nil {
		p.Notifier = notify.NewLogNotifier(p.Logger)
	}
	if p.Recorder == nil {
		p.Recorder = audit.NoopRecorder{}
	}
	if p.WriteAttempts < 1 {
		p.WriteAttempts = 5
	}

	services := append([]models.Service(nil), p.Services...)
	sort.SliceStable(services, func(i, j int) bool { return services[i].Rank < services[j].Rank })

	return &Orchestrator{
		logger:        p.Logger,
		store:         p.Store,
		rollback:      p.Rollback,
		sequencer:     p.Sequencer,
		notifier:      p.Notifier,
		recorder:      p.Recorder,
		services:      services,
		triggers:      append([]models.Trigger(nil), p.Triggers...),
		stages:        append([]int(nil), p.Stages...),
		writeAttempts: p.WriteAttempts,
		active:        make(map[string]*activeRun),
	}, nil
}

func validateStages(stages []int) error {
	if len(stages) == 0 {
		return fmt.Errorf("stage list is empty")
	}
	prev := 101
	for i, weight := range stages {
		if weight < 0 || weight > 100 {
			return fmt.Errorf("stage %d weight %d outside [0,100]", i, weight)
		}
		if weight >= prev {
			return fmt.Errorf("stage %d weight %d does not decrease from %d", i, weight, prev)
		}
		prev = weight
	}
	if stages[len(stages)-1] != 0 {
		return fmt.Errorf("final stage weight must be 0, got %d", stages[len(stages)-1])
	}
	return nil
}

// Migrate runs the migration plan. An empty service name migrates every
// configured service in ascending rank order, stopping at the first service
// that does not succeed. A named service migrates only that service,
// regardless of rank. The returned error is nil only when every attempted
// run succeeded.
func (o *Orchestrator) Migrate(ctx context.Context, service string) error {
	targets, err := o.targets(service)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.migrating {
		o.mu.Unlock()
		return fmt.Errorf("%w: a migration is already in progress", ErrInvalidPlan)
	}
	o.migrating = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.migrating = false
		o.mu.Unlock()
	}()

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.migrateOne(ctx, target); err != nil {
			if len(targets) > 1 {
				o.logger.Error("fleet migration halted",
					slog.String("failed_service", target.Name),
					slog.Any("error", err))
			}
			return err
		}
	}
	return nil
}

func (o *Orchestrator) targets(service string) ([]models.Service, error) {
	if service == "" {
		return o.services, nil
	}
	for _, svc := range o.services {
		if svc.Name == service {
			return []models.Service{svc}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
}

func (o *Orchestrator) migrateOne(ctx context.Context, service models.Service) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	tracker := newRunTracker(models.MigrationRun{
		ID:      uuid.NewString(),
		Service: service.Name,
		Stages:  append([]int(nil), o.stages...),
		Status:  models.RunPending,
	})

	o.mu.Lock()
	o.runs = append(o.runs, tracker)
	o.active[service.Name] = &activeRun{tracker: tracker, cancel: cancel}
	o.mu.Unlock()

	o.logger.Info("migration starting",
		slog.String("service", service.Name),
		slog.Int("rank", service.Rank),
		slog.Any("stages", o.stages))

	if split, err := o.store.GetSplit(runCtx, service.Name); err != nil {
		o.logger.Warn("could not read current split",
			slog.String("service", service.Name), slog.Any("error", err))
	} else if split.BlueWeight != 100 {
		o.logger.Warn("starting from a partially shifted split",
			slog.String("service", service.Name),
			slog.Int("blue_weight", split.BlueWeight),
			slog.Int("green_weight", split.GreenWeight))
	}

	handle := o.rollback.Start(runCtx, service, o.triggers, cancel)
	o.sequencer.Run(runCtx, tracker)
	o.rollback.Stop(handle)
	cancel(nil)

	o.mu.Lock()
	delete(o.active, service.Name)
	o.mu.Unlock()

	run := tracker.Snapshot()
	metrics.ObserveMigrationDuration(run.FinishedAt.Sub(run.StartedAt))

	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelRecord()
	if err := o.recorder.RecordRun(recordCtx, run); err != nil {
		o.logger.Warn("failed to persist run record",
			slog.String("service", service.Name), slog.Any("error", err))
	}

	switch run.Status {
	case models.RunSucceeded:
		return nil
	case models.RunRolledBack:
		return fmt.Errorf("%s: %w", service.Name, ErrRolledBack)
	case models.RunAborted:
		if run.AbortReason == models.ReasonInfrastructure {
			return fmt.Errorf("%s: %w", service.Name, ErrInfrastructure)
		}
		return fmt.Errorf("%s: %w", service.Name, ErrOperatorAbort)
	}
	return fmt.Errorf("%s: run ended in non-terminal status %s", service.Name, run.Status)
}

// Status returns snapshots of every run started this process lifetime, in
// start order.
func (o *Orchestrator) Status() []models.MigrationRun {
	o.mu.Lock()
	trackers := append([]*runTracker(nil), o.runs...)
	o.mu.Unlock()

	runs := make([]models.MigrationRun, len(trackers))
	for i, t := range trackers {
		runs[i] = t.Snapshot()
	}
	return runs
}

// Run returns the most recent run for a service.
func (o *Orchestrator) Run(service string) (models.MigrationRun, error) {
	o.mu.Lock()
	trackers := append([]*runTracker(nil), o.runs...)
	o.mu.Unlock()

	for i := len(trackers) - 1; i >= 0; i-- {
		run := trackers[i].Snapshot()
		if run.Service == service {
			return run, nil
		}
	}
	return models.MigrationRun{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
}

// Abort cancels the in-flight run for a service and restores 100% blue. The
// run terminates Aborted with the operator reason, never RolledBack.
func (o *Orchestrator) Abort(service string) error {
	o.mu.Lock()
	run, ok := o.active[service]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveRun, service)
	}

	o.logger.Warn("operator abort requested", slog.String("service", service))
	metrics.ObserveOperatorAbort(service)

	// Cancel first so the sequencer cannot write after the restore below.
	run.cancel(ErrOperatorAbort)

	writeCtx, cancelWrite := context.WithTimeout(context.Background(), time.Minute)
	defer cancelWrite()
	if err := setSplitWithRetry(writeCtx, o.store, o.logger, service, 100, o.writeAttempts); err != nil {
		return fmt.Errorf("abort %s: restore blue weight: %w", service, err)
	}
	return nil
}

// Events returns rollback events recorded for a service this process lifetime.
func (o *Orchestrator) Events(service string) []models.RollbackEvent {
	return o.rollback.Events(service)
}
