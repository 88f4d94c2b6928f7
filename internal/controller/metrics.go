package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/dutharness/internal/model"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dut_runs_total",
			Help: "Total number of test case runs that ended, by terminal status.",
		},
		[]string{"status"},
	)

	rejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dut_configure_rejected_total",
			Help: "Total number of configure requests rejected before a run was created.",
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dut_run_duration_seconds",
			Help:    "Time from execution start to the terminal report.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dut_active_runs",
			Help: "Number of test cases currently executing (0 or 1).",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(rejectedTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(activeRuns)

	for _, s := range []model.Status{model.StatusFinished, model.StatusFailed} {
		runsTotal.WithLabelValues(string(s))
	}
}
