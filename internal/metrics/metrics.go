// Package metrics holds Prometheus instrumentation for the judging
// daemon: compile/case counts by verdict, durations, and sandbox pool
// occupancy. Grounded on
// _examples/vasic-digital-SuperAgent/internal/background/metrics.go's
// promauto-registered-struct shape (Namespace/Subsystem/Name/Help plus a
// handful of recording methods), since the teacher repo's own go-zero
// services expose metrics through framework middleware rather than
// hand-written counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Judge holds every counter/gauge/histogram the judging daemon records.
type Judge struct {
	CasesTotal       *prometheus.CounterVec
	CaseDuration     *prometheus.HistogramVec
	CompileTotal     *prometheus.CounterVec
	CompileDuration  prometheus.Histogram
	SandboxesInUse   prometheus.Gauge
	SandboxesFree    prometheus.Gauge
	SubmissionsTotal *prometheus.CounterVec
}

// New registers and returns a Judge metrics set.
func New() *Judge {
	return &Judge{
		CasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgecore",
			Subsystem: "runner",
			Name:      "cases_total",
			Help:      "Total cases judged, by verdict status.",
		}, []string{"status"}),

		CaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "judgecore",
			Subsystem: "runner",
			Name:      "case_duration_seconds",
			Help:      "Wall time spent judging one case, by verdict status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"status"}),

		CompileTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgecore",
			Subsystem: "language",
			Name:      "compiles_total",
			Help:      "Total compile attempts, by outcome.",
		}, []string{"outcome"}), // outcome: ok, compile_error, system_error

		CompileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "judgecore",
			Subsystem: "language",
			Name:      "compile_duration_seconds",
			Help:      "Wall time spent compiling a submission.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40},
		}),

		SandboxesInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "judgecore",
			Subsystem: "sandbox",
			Name:      "handles_in_use",
			Help:      "Sandbox handles currently checked out of the pool.",
		}),

		SandboxesFree: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "judgecore",
			Subsystem: "sandbox",
			Name:      "handles_free",
			Help:      "Sandbox handles currently available in the pool.",
		}),

		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judgecore",
			Subsystem: "orchestrator",
			Name:      "submissions_total",
			Help:      "Total submissions judged to completion, by aggregate status.",
		}, []string{"status"}),
	}
}
