package models

import "time"

// Environment names one of the two traffic targets. The model is strictly
// binary: blue is the incumbent, green the candidate, and the green weight is
// always 100 minus the blue weight.
type Environment string

const (
	EnvironmentBlue  Environment = "blue"
	EnvironmentGreen Environment = "green"
)

// Service is a logical unit under migration. Immutable once a run starts.
type Service struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
	Port int    `json:"port"`
}

// TrafficSplit records the current weight split for a service.
// BlueWeight + GreenWeight is always 100.
type TrafficSplit struct {
	Service     string    `json:"service"`
	BlueWeight  int       `json:"blue_weight"`
	GreenWeight int       `json:"green_weight"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunStatus enumerates migration run states.
type RunStatus string

const (
	RunPending    RunStatus = "Pending"
	RunInProgress RunStatus = "InProgress"
	RunSucceeded  RunStatus = "Succeeded"
	RunRolledBack RunStatus = "RolledBack"
	RunAborted    RunStatus = "Aborted"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunRolledBack, RunAborted:
		return true
	}
	return false
}

// AbortReason distinguishes why a run ended Aborted. Operator aborts and
// infrastructure failures share the terminal status but not the reason.
type AbortReason string

const (
	ReasonNone           AbortReason = ""
	ReasonOperator       AbortReason = "operator"
	ReasonInfrastructure AbortReason = "infrastructure"
)

// MigrationRun tracks one service's progress through its stage list.
// Terminal runs are immutable and retained for audit and status queries.
type MigrationRun struct {
	ID           string      `json:"id"`
	Service      string      `json:"service"`
	Stages       []int       `json:"stages"`
	CurrentStage int         `json:"current_stage"`
	Status       RunStatus   `json:"status"`
	AbortReason  AbortReason `json:"abort_reason,omitempty"`

	// FailedTrigger and ObservedValue are set when Status is RolledBack.
	FailedTrigger *Trigger  `json:"failed_trigger,omitempty"`
	ObservedValue float64   `json:"observed_value,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}
