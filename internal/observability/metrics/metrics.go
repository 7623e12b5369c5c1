package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "hazardwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	cycleTotal   prometheus.Counter
	cycleSkipped prometheus.Counter
	cycleLatency prometheus.Histogram

	ruleOutcomes   *prometheus.CounterVec
	ruleRefreshes  *prometheus.CounterVec
	conditionEvals *prometheus.CounterVec

	dispatchActions *prometheus.CounterVec

	alertExportTotal   *prometheus.CounterVec
	alertExportLatency *prometheus.HistogramVec

	streamClients prometheus.Gauge
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		cycleTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_cycles_total",
				Help: "Total completed rule evaluation cycles",
			},
		)
		cycleSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_cycles_skipped_total",
				Help: "Cycles skipped because the previous one was still running",
			},
		)
		cycleLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_cycle_latency_seconds",
				Help:    "Evaluation cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		ruleOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_outcomes_total",
				Help: "Rule evaluation outcomes by terminal state",
			},
			[]string{"outcome"},
		)
		ruleRefreshes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_refreshes_total",
				Help: "Rule set refreshes by result",
			},
			[]string{"result"},
		)
		conditionEvals = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "condition_evaluations_total",
				Help: "Condition evaluations by kind and result",
			},
			[]string{"kind", "result"},
		)

		dispatchActions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_actions_total",
				Help: "Dispatched rule actions by kind and result",
			},
			[]string{"action", "result"},
		)

		alertExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_export_total",
				Help: "Alert export operations by format and result",
			},
			[]string{"format", "result"},
		)
		alertExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_export_latency_seconds",
				Help:    "Alert export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		streamClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_clients",
				Help: "Connected alert stream subscribers",
			},
		)

		prometheus.MustRegister(
			cycleTotal,
			cycleSkipped,
			cycleLatency,
			ruleOutcomes,
			ruleRefreshes,
			conditionEvals,
			dispatchActions,
			alertExportTotal,
			alertExportLatency,
			streamClients,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveCycle records one completed evaluation cycle.
func ObserveCycle(duration time.Duration) {
	if cycleTotal != nil {
		cycleTotal.Inc()
	}
	if cycleLatency != nil {
		cycleLatency.Observe(duration.Seconds())
	}
}

// IncCycleSkipped increments the overlapping-cycle counter.
func IncCycleSkipped() {
	if cycleSkipped != nil {
		cycleSkipped.Inc()
	}
}

// IncRuleOutcome increments the per-outcome rule counter.
func IncRuleOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if ruleOutcomes != nil {
		ruleOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncRuleRefresh increments the rule refresh counter.
func IncRuleRefresh(result string) {
	if result == "" {
		result = resultSuccess
	}
	if ruleRefreshes != nil {
		ruleRefreshes.WithLabelValues(result).Inc()
	}
}

// IncConditionEval increments the per-kind condition counter.
func IncConditionEval(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if conditionEvals != nil {
		conditionEvals.WithLabelValues(kind, result).Inc()
	}
}

// IncDispatchAction increments the per-action dispatch counter.
func IncDispatchAction(action, result string) {
	if action == "" {
		action = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if dispatchActions != nil {
		dispatchActions.WithLabelValues(action, result).Inc()
	}
}

// ObserveAlertExport records export latency and result.
func ObserveAlertExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if alertExportTotal != nil {
		alertExportTotal.WithLabelValues(format, result).Inc()
	}
	if alertExportLatency != nil {
		alertExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// StreamClientConnected adjusts the subscriber gauge.
func StreamClientConnected(delta int) {
	if streamClients == nil {
		return
	}
	streamClients.Add(float64(delta))
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
