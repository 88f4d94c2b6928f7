package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/seantiz/dutharness/internal/controller"
)

// healthCheckTimeout bounds how long /healthz waits for the controller's
// worker to answer.
const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status     string           `json:"status"`
	Controller controller.State `json:"controller,omitempty"`
	QueueLen   int              `json:"queue_len"`
	Error      string           `json:"error,omitempty"`
}

// handleHealthz reports ok only while the controller's worker is processing
// tasks, so a stopped or wedged worker fails the check.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	snap, err := s.controller.State(ctx)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, healthResponse{
			Status:     "ok",
			Controller: snap.State,
			QueueLen:   snap.QueueLen,
		})
	case errors.Is(err, controller.ErrScheduling):
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "controller is shut down"})
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("health check timed out", "timeout", healthCheckTimeout.String())
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "controller is not responding"})
	default:
		s.logger.Error("health check", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
	}
}
