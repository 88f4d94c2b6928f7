package taskqueue

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for task results.
const (
	resultOK    = "ok"
	resultError = "error"
	resultPanic = "panic"
)

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dut_taskqueue_depth",
			Help: "Number of tasks waiting in the controller task queue.",
		},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dut_worker_tasks_total",
			Help: "Total number of tasks executed by the task worker, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(tasksTotal)

	for _, r := range []string{resultOK, resultError, resultPanic} {
		tasksTotal.WithLabelValues(r)
	}
}
