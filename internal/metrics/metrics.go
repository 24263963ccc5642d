// Package metrics exports lint results in the Prometheus textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kingrea/lintreports/internal/lint"
)

const namespace = "lintreports"

// Recorder owns a private registry so repeated runs (watch mode) never clash
// with the default one.
type Recorder struct {
	registry *prometheus.Registry
	reports  prometheus.Gauge
	findings *prometheus.GaugeVec
	severity *prometheus.GaugeVec
	duration prometheus.Gauge
	runs     prometheus.Counter
	lastRun  prometheus.Gauge
}

// NewRecorder registers every lintreports metric.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		reports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reports_parsed",
			Help: "Reports parsed in the last run.",
		}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "findings",
			Help: "Findings in the last run by kind.",
		}, []string{"kind"}),
		severity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "findings_by_severity",
			Help: "Findings in the last run by severity.",
		}, []string{"severity"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Lint runs recorded by this process.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(r.reports, r.findings, r.severity, r.duration, r.runs, r.lastRun)
	return r
}

// Observe records one run.
func (r *Recorder) Observe(res *lint.Result, elapsed time.Duration, finished time.Time) {
	r.reports.Set(float64(len(res.Reports)))
	kinds := map[string]int{
		"dangling_reference":  len(res.DanglingReferences),
		"cycle":               len(res.Cycles),
		"key_conflict":        len(res.KeyConflicts),
		"ordering_violation":  len(res.OrderingViolations),
		"duplicate_position":  len(res.DuplicatePositions),
		"namespace_violation": len(res.NamespaceViolations),
		"total_mismatch":      len(res.TotalMismatches),
		"input_error":         len(res.InputErrors),
		"rule_finding":        len(res.RuleFindings),
	}
	warnings := 0
	for _, rep := range res.Reports {
		warnings += len(rep.Warnings)
	}
	kinds["parse_warning"] = warnings
	for kind, n := range kinds {
		r.findings.WithLabelValues(kind).Set(float64(n))
	}
	r.severity.WithLabelValues("error").Set(float64(res.Summary.Errors))
	r.severity.WithLabelValues("warning").Set(float64(res.Summary.Warnings))
	r.severity.WithLabelValues("info").Set(float64(res.Summary.Info))
	r.duration.Set(elapsed.Seconds())
	r.lastRun.Set(float64(finished.Unix()))
	r.runs.Inc()
}

// WriteFile writes the registry to path for the node_exporter textfile
// collector. The write is atomic.
func (r *Recorder) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create %s: %w", filepath.Dir(path), err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}
