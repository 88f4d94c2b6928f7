// Package reporter delivers controller reports to the run history store
// and to live subscribers.
package reporter

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/dutharness/internal/broker"
	"github.com/seantiz/dutharness/internal/controller"
	"github.com/seantiz/dutharness/internal/model"
	"github.com/seantiz/dutharness/internal/store"
)

// saveTimeout bounds a single store write so a slow disk cannot stall the
// controller's worker for long.
const saveTimeout = 5 * time.Second

var reportsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dut_reports_total",
		Help: "Total number of reports delivered by the controller, by status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(reportsTotal)
}

// Compile-time interface satisfaction check.
var _ controller.Transferer = (*Reporter)(nil)

// Reporter persists each report, then publishes it to the broker.
// Persistence failures are logged and never reach the controller.
type Reporter struct {
	store  store.Store
	broker *broker.Broker
	logger *slog.Logger
}

// New creates a reporter.
func New(s store.Store, b *broker.Broker, logger *slog.Logger) *Reporter {
	return &Reporter{store: s, broker: b, logger: logger}
}

// TransferData implements controller.Transferer.
func (r *Reporter) TransferData(rep model.Report) {
	reportsTotal.WithLabelValues(string(rep.Status)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := r.store.SaveReport(ctx, rep); err != nil {
		r.logger.Error("failed to save report",
			"run_id", rep.RunID,
			"seq", rep.Seq,
			"status", rep.Status,
			"error", err,
		)
	}

	r.broker.Publish(rep)

	r.logger.Debug("report delivered", "run_id", rep.RunID, "seq", rep.Seq, "status", rep.Status)
}
