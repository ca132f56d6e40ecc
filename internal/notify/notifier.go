package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// EventKind names the migration lifecycle moments that produce alerts.
type EventKind string

const (
	KindStageComplete      EventKind = "stage-complete"
	KindMigrationSucceeded EventKind = "migration-succeeded"
	KindRollback           EventKind = "rollback"
	KindAbort              EventKind = "abort"
)

// Event is the structured alert payload dispatched to external channels.
type Event struct {
	Kind        EventKind       `json:"kind"`
	Service     string          `json:"service"`
	Severity    models.Severity `json:"severity"`
	Message     string          `json:"message"`
	BlueWeight  int             `json:"blue_weight"`
	GreenWeight int             `json:"green_weight"`

	// Trigger and ObservedValue are set on rollback events.
	Trigger       *models.Trigger `json:"trigger,omitempty"`
	ObservedValue float64         `json:"observed_value,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Notifier dispatches events to an external channel. Best effort: failures
// are logged by callers but never block migration progress.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// Fanout dispatches every event to all wrapped notifiers and returns the
// first error encountered.
type Fanout []Notifier

// Send forwards the event to each notifier in order.
func (f Fanout) Send(ctx context.Context, event Event) error {
	var firstErr error
	for _, n := range f {
		if err := n.Send(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier writes events to the structured log. Used when no webhook is
// configured and as the local-dev default.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a notifier backed by the supplied logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the event at a level matching its severity.
func (n *LogNotifier) Send(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("service", event.Service),
		slog.Int("blue_weight", event.BlueWeight),
		slog.Int("green_weight", event.GreenWeight),
	}
	if event.Trigger != nil {
		attrs = append(attrs,
			slog.String("signal", event.Trigger.Signal),
			slog.Float64("observed", event.ObservedValue),
			slog.Float64("threshold", event.Trigger.Threshold),
		)
	}
	switch event.Severity {
	case models.SeverityCritical:
		n.logger.Error(event.Message, attrs...)
	case models.SeverityWarning:
		n.logger.Warn(event.Message, attrs...)
	default:
		n.logger.Info(event.Message, attrs...)
	}
	return nil
}
