package models

import "time"

// Severity grades trigger violations and the notifications they produce.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Comparison names the failing direction of a trigger check.
type Comparison string

const (
	// CompareGreater fails when the observed value exceeds the threshold
	// (latency, error rate).
	CompareGreater Comparison = "gt"
	// CompareLess fails when the observed value is below the threshold
	// (compliance score, availability).
	CompareLess Comparison = "lt"
	// CompareEqual fails when the observed value equals the threshold.
	CompareEqual Comparison = "eq"
	// CompareNotEqual fails when the observed value differs from the
	// threshold (hash-mismatch checks, zero tolerance).
	CompareNotEqual Comparison = "ne"
)

// Trigger is one evaluation rule for a monitored signal. Loaded from
// configuration and immutable for the duration of a migration run.
type Trigger struct {
	Signal              string        `json:"signal"`
	Comparison          Comparison    `json:"comparison"`
	Threshold           float64       `json:"threshold"`
	Window              time.Duration `json:"window"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Severity            Severity      `json:"severity"`
}

// TriggerState holds the rolling evaluation state for one (service, signal)
// pair. Owned exclusively by the rollback engine loop for that service.
type TriggerState struct {
	Service                 string
	Signal                  string
	ConsecutiveFailureCount int
	LastEvaluatedAt         time.Time
}

// RollbackEvent is an append-only audit record created when a trigger fires.
type RollbackEvent struct {
	ID            string    `json:"id"`
	Service       string    `json:"service"`
	Trigger       Trigger   `json:"trigger"`
	ObservedValue float64   `json:"observed_value"`
	Timestamp     time.Time `json:"timestamp"`
}
