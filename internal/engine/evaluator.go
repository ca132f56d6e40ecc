package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platformbuilds/shiftgate/internal/models"
	"github.com/platformbuilds/shiftgate/internal/signal"
)

// Outcome classifies one trigger evaluation.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFail    Outcome = "fail"
)

// Result is the outcome of evaluating one trigger for a service.
type Result struct {
	Outcome Outcome
	Trigger models.Trigger
	Value   float64
	Samples int
}

// Evaluator scores triggers against live metric data, one check at a time.
// The comparison table is data-driven: adding a new signal means adding a
// trigger row, not a code branch.
type Evaluator struct {
	source signal.Source
}

// NewEvaluator constructs an evaluator over the given metric source.
func NewEvaluator(source signal.Source) *Evaluator {
	return &Evaluator{source: source}
}

// Evaluate queries the trigger's signal over its window and updates the
// rolling state. Inconclusive queries return Skipped and leave the failure
// count untouched. A violation below the consecutive-failure threshold
// reports Pass while the count accumulates; reaching the threshold reports
// Fail exactly once per breach episode and resets the count.
func (e *Evaluator) Evaluate(ctx context.Context, service string, trigger models.Trigger, state *models.TriggerState) (Result, error) {
	value, samples, err := e.source.Query(ctx, service, trigger.Signal, trigger.Window)
	state.LastEvaluatedAt = time.Now().UTC()

	if errors.Is(err, signal.ErrInsufficientSamples) {
		return Result{Outcome: OutcomeSkipped, Trigger: trigger, Value: value, Samples: samples}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("query %s for %s: %w", trigger.Signal, service, err)
	}

	if !violates(trigger.Comparison, value, trigger.Threshold) {
		state.ConsecutiveFailureCount = 0
		return Result{Outcome: OutcomePass, Trigger: trigger, Value: value, Samples: samples}, nil
	}

	state.ConsecutiveFailureCount++
	required := trigger.ConsecutiveFailures
	if required < 1 {
		required = 1
	}
	if state.ConsecutiveFailureCount >= required {
		// One fail report per breach episode, not one per poll.
		state.ConsecutiveFailureCount = 0
		return Result{Outcome: OutcomeFail, Trigger: trigger, Value: value, Samples: samples}, nil
	}
	return Result{Outcome: OutcomePass, Trigger: trigger, Value: value, Samples: samples}, nil
}

func violates(cmp models.Comparison, value, threshold float64) bool {
	switch cmp {
	case models.CompareGreater:
		return value > threshold
	case models.CompareLess:
		return value < threshold
	case models.CompareEqual:
		return value == threshold
	case models.CompareNotEqual:
		return value != threshold
	}
	return false
}
