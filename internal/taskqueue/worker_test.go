package taskqueue

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestWorker(t *testing.T, capacity int) (*Worker, *Queue) {
	t.Helper()
	q := NewQueue(capacity)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	w := NewWorker(q, logger)
	t.Cleanup(w.Stop)
	return w, q
}

func TestWorkerRunsTasksInOrder(t *testing.T) {
	w, q := newTestWorker(t, 4)
	w.Start()

	var (
		mu    sync.Mutex
		order []int
	)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		err := q.Insert(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 19 {
				close(done)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Insert[%d]: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Errorf("order[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestWorkerSurvivesFailingTasks(t *testing.T) {
	w, q := newTestWorker(t, 4)
	w.Start()

	panicsBefore := testutil.ToFloat64(tasksTotal.WithLabelValues(resultPanic))
	errorsBefore := testutil.ToFloat64(tasksTotal.WithLabelValues(resultError))

	if err := q.Insert(func() error { return errors.New("boom") }); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := q.Insert(func() error { panic("task exploded") }); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ran := make(chan struct{})
	if err := q.Insert(func() error { close(ran); return nil }); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped processing after failing tasks")
	}

	if got := testutil.ToFloat64(tasksTotal.WithLabelValues(resultPanic)) - panicsBefore; got != 1 {
		t.Errorf("panic count delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tasksTotal.WithLabelValues(resultError)) - errorsBefore; got != 1 {
		t.Errorf("error count delta = %v, want 1", got)
	}
}

func TestWorkerStopWhileIdle(t *testing.T) {
	w, q := newTestWorker(t, 1)
	w.Start()

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return for an idle worker")
	}

	select {
	case <-w.Done():
	default:
		t.Error("Done() not closed after Stop")
	}
	if !q.IsShutdown() {
		t.Error("queue not shut down after Stop")
	}
	if err := q.Insert(noop); !errors.Is(err, ErrShutdown) {
		t.Errorf("Insert after Stop = %v, want ErrShutdown", err)
	}

	// Second Stop is a no-op.
	w.Stop()
}

func TestWorkerStopWaitsForRunningTask(t *testing.T) {
	w, q := newTestWorker(t, 1)
	w.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	err := q.Insert(func() error {
		close(started)
		<-release
		close(finished)
		return nil
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was still running")
	case <-time.After(blockCheck):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
	select {
	case <-finished:
	default:
		t.Error("running task was abandoned by Stop")
	}
}

func TestWorkerStopBeforeStart(t *testing.T) {
	w, q := newTestWorker(t, 1)

	w.Stop()
	w.Start()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed for a worker stopped before start")
	}
	if !q.IsShutdown() {
		t.Error("queue not shut down")
	}
}
