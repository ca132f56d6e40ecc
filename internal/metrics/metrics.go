package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomePass labels evaluations where the signal stayed within bounds.
	OutcomePass = "pass"
	// OutcomeFail labels evaluations that fired a rollback trigger.
	OutcomeFail = "fail"
	// OutcomeSkipped labels inconclusive evaluations (insufficient samples).
	OutcomeSkipped = "skipped"
	// OutcomeError labels evaluations that failed at the metric source.
	OutcomeError = "error"
)

var (
	stageAdvancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftgate",
			Name:      "stage_advances_total",
			Help:      "Total traffic-weight stage advances, partitioned by service.",
		},
		[]string{"service"},
	)

	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftgate",
			Name:      "rollbacks_total",
			Help:      "Total automated rollbacks fired by trigger violations.",
		},
		[]string{"service"},
	)

	operatorAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftgate",
			Name:      "operator_aborts_total",
			Help:      "Total operator-invoked aborts; excluded from rollback counts.",
		},
		[]string{"service"},
	)

	triggerEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftgate",
			Name:      "trigger_evaluations_total",
			Help:      "Trigger evaluations, partitioned by signal and outcome.",
		},
		[]string{"signal", "outcome"},
	)

	routeWriteRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftgate",
			Name:      "route_write_retries_total",
			Help:      "SetSplit retries against an unavailable route store.",
		},
		[]string{"service"},
	)

	migrationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shiftgate",
			Name:      "migration_duration_seconds",
			Help:      "End-to-end migration run duration in seconds.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		},
	)

	stageSettleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shiftgate",
			Name:      "stage_settle_seconds",
			Help:      "Observed settle window duration per stage in seconds.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 900},
		},
	)
)

// Register attaches shiftgate collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		stageAdvancesTotal,
		rollbacksTotal,
		operatorAbortsTotal,
		triggerEvaluationsTotal,
		routeWriteRetriesTotal,
		migrationDurationSeconds,
		stageSettleSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveStageAdvance counts a completed stage advance for a service.
func ObserveStageAdvance(service string) {
	stageAdvancesTotal.WithLabelValues(service).Inc()
}

// ObserveRollback counts an automated rollback.
func ObserveRollback(service string) {
	rollbacksTotal.WithLabelValues(service).Inc()
}

// ObserveOperatorAbort counts an operator abort.
func ObserveOperatorAbort(service string) {
	operatorAbortsTotal.WithLabelValues(service).Inc()
}

// ObserveTriggerEvaluation counts a trigger evaluation outcome.
func ObserveTriggerEvaluation(signal, outcome string) {
	triggerEvaluationsTotal.WithLabelValues(signal, outcome).Inc()
}

// ObserveRouteRetry counts one SetSplit retry.
func ObserveRouteRetry(service string) {
	routeWriteRetriesTotal.WithLabelValues(service).Inc()
}

// ObserveMigrationDuration records how long a run took to reach a terminal state.
func ObserveMigrationDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	migrationDurationSeconds.Observe(d.Seconds())
}

// ObserveSettle records one completed settle window.
func ObserveSettle(d time.Duration) {
	if d < 0 {
		d = 0
	}
	stageSettleSeconds.Observe(d.Seconds())
}
