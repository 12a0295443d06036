// Package metrics records the outcome of planning and preflight passes as
// Prometheus series. Nothing is served; the registry can be written to a
// node-exporter textfile after a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "obplan"

// Stages of a pass.
const (
	StageProbe       = "probe"
	StagePlan        = "plan"
	StageConsolidate = "consolidate"
	StageAggregate   = "aggregate"
	StageCheck       = "check"
)

// Recorder owns a private registry with the series of one process. A nil
// Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	checks   *prometheus.CounterVec
	warnings *prometheus.CounterVec
	degraded *prometheus.CounterVec
	planned  *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	lastRun  prometheus.Gauge
}

// New creates a Recorder with every series registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Preflight passes by result.",
		}, []string{"result"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_items_total",
			Help:      "Resolved check items by item and status.",
		}, []string{"item", "status"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_warnings_total",
			Help:      "Warnings recorded on check items.",
		}, []string{"item"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_degraded_facts_total",
			Help:      "Host facts that could not be read.",
		}, []string{"fact"}),
		planned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planned_keys_total",
			Help:      "Configuration keys written by planning, by component and scope.",
		}, []string{"component", "scope"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each stage of a pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last pass finished.",
		}),
	}
	r.registry.MustRegister(r.runs, r.checks, r.warnings, r.degraded, r.planned, r.stages, r.lastRun)
	return r
}

// Registry returns the registry holding the series.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCheck counts one resolved (node, item) entry.
func (r *Recorder) RecordCheck(item, status string, warnings int) {
	if r == nil {
		return
	}
	r.checks.WithLabelValues(item, status).Inc()
	if warnings > 0 {
		r.warnings.WithLabelValues(item).Add(float64(warnings))
	}
}

// RecordDegraded counts a fact that could not be read.
func (r *Recorder) RecordDegraded(fact string) {
	if r == nil {
		return
	}
	r.degraded.WithLabelValues(fact).Inc()
}

// RecordPlanned counts keys written at scope ("global" or "node").
func (r *Recorder) RecordPlanned(component, scope string, keys int) {
	if r == nil || keys == 0 {
		return
	}
	r.planned.WithLabelValues(component, scope).Add(float64(keys))
}

// RecordRun counts a finished pass.
func (r *Recorder) RecordRun(failed bool) {
	if r == nil {
		return
	}
	result := "pass"
	if failed {
		result = "fail"
	}
	r.runs.WithLabelValues(result).Inc()
	r.lastRun.SetToCurrentTime()
}

// WriteTextfile writes every series to path in the text exposition format,
// atomically, for the node exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
