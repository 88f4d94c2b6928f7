package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/dutharness/internal/model"
	"github.com/seantiz/dutharness/internal/store"
)

// handleStreamReports streams a run's reports as server-sent events: first
// the stored history, then live reports, then a "done" event once the run
// has its terminal report.
func (s *Server) handleStreamReports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run for stream", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	// Subscribe before reading history: reports are stored before they are
	// published, so history plus live reports leaves no gap.
	ch, unsub := s.broker.Subscribe(id)
	defer unsub()

	history, err := s.store.GetReports(r.Context(), id)
	if err != nil {
		s.logger.Error("get reports for stream", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get reports")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	streamsActive.Inc()
	defer streamsActive.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	flush()

	lastSeq := -1
	for _, rep := range history {
		if err := writeSSEReport(w, rep); err != nil {
			return
		}
		lastSeq = rep.Seq
		if rep.Status.Terminal() {
			_ = writeSSEEvent(w, "done", "stream complete")
			flush()
			return
		}
	}
	flush()

	for {
		select {
		case rep, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if rep.Seq <= lastSeq {
				continue
			}
			if err := writeSSEReport(w, rep); err != nil {
				return // Write failed (e.g. client gone).
			}
			lastSeq = rep.Seq
			flush()
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEReport writes rep as a JSON-encoded SSE data event.
func writeSSEReport(w http.ResponseWriter, rep model.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
