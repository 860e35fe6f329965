package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "op_suite"
)

var (
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	groupResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "group_results_total",
		Help:      "Count of test group results",
	}, []string{
		"run_id",
		"group",
		"result",
	})

	groupDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "group_duration_seconds",
		Help:      "Wall-clock duration of each test group",
	}, []string{
		"run_id",
		"group",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of the whole orchestrator run",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Total wall-clock duration of the run",
	}, []string{
		"run_id",
	})

	leakedProcessesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "leaked_processes_total",
		Help:      "Count of child processes that survived cleanup",
	}, []string{
		"group",
	})

	serverReadinessTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "server_readiness_timeouts_total",
		Help:      "Count of auxiliary servers that never published a connection endpoint",
	}, []string{
		"group",
	})
)

// RecordError increments the error counter for the given error label.
func RecordError(label string) {
	errorsTotal.WithLabelValues(label).Inc()
}

// RecordErrorDetails increments the error counter with the error message
// appended to the label.
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	RecordError(label + ": " + err.Error())
}

// RecordGroupResult records one test group's outcome.
func RecordGroupResult(runID, group, result string, duration time.Duration) {
	groupResultsTotal.WithLabelValues(runID, group, result).Inc()
	groupDuration.WithLabelValues(runID, group).Set(duration.Seconds())
}

// RecordRun records the aggregate outcome of one invocation.
func RecordRun(runID, result string, duration time.Duration) {
	runResults.WithLabelValues(runID, result).Set(1)
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

// RecordLeakedProcess counts a child that survived cleanup.
func RecordLeakedProcess(group string) {
	leakedProcessesTotal.WithLabelValues(group).Inc()
}

// RecordReadinessTimeout counts an auxiliary server that never became
// ready within its polling window.
func RecordReadinessTimeout(group string) {
	serverReadinessTimeoutsTotal.WithLabelValues(group).Inc()
}
