package taskqueue

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Worker drains a Queue on one dedicated goroutine, running each task to
// completion before extracting the next. A task that fails or panics is
// logged and never terminates the loop.
type Worker struct {
	queue  *Queue
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	done    chan struct{}
}

// NewWorker creates a worker for q. Call Start to launch its goroutine.
func NewWorker(q *Queue, logger *slog.Logger) *Worker {
	return &Worker{
		queue:  q,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start spawns the worker goroutine. Calling Start more than once, or after
// Stop, has no effect.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.stopped {
		return
	}
	w.running = true
	go w.loop()
}

// Stop shuts down the queue and waits for the worker goroutine to exit.
// It is idempotent and must not be called from a task running on this worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	first := !w.stopped
	w.stopped = true
	running := w.running
	w.mu.Unlock()

	w.queue.Shutdown()

	if !running {
		if first {
			close(w.done)
		}
		return
	}
	<-w.done
}

// Done returns a channel that is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// loop is the worker's message loop; it owns a dedicated goroutine.
func (w *Worker) loop() {
	defer close(w.done)

	for {
		task, err := w.queue.Extract()
		if err != nil {
			w.logger.Debug("task worker stopping", "reason", err)
			return
		}
		w.run(task)
	}
}

// run executes a single task behind a recover barrier.
func (w *Worker) run(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			tasksTotal.WithLabelValues(resultPanic).Inc()
			w.logger.Error("task panicked",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := task(); err != nil {
		tasksTotal.WithLabelValues(resultError).Inc()
		w.logger.Error("task failed", "error", err)
		return
	}
	tasksTotal.WithLabelValues(resultOK).Inc()
}
