package controller

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/seantiz/dutharness/internal/testcase"
)

// run tracks one configured test case. Fields other than execErr are owned
// by the worker goroutine; execErr is written by the execution goroutine
// before done is closed.
type run struct {
	id       string
	testName string
	tc       testcase.TestCase
	seq      int

	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{} // nil until started; closed when Execute returns
	released  chan struct{} // closed once the run has its terminal report
	execErr   error
}

func newRun(id, testName string, tc testcase.TestCase) *run {
	return &run{
		id:       id,
		testName: testName,
		tc:       tc,
		released: make(chan struct{}),
	}
}

func (r *run) started() bool {
	return r.done != nil
}

func (r *run) nextSeq() int {
	n := r.seq
	r.seq++
	return n
}

func (r *run) release() {
	if r.cancel != nil {
		r.cancel()
	}
	close(r.released)
}

// runCallback binds test case callbacks to one run, so data delivered after
// the run has ended is recognised and dropped.
type runCallback struct {
	c     *Controller
	runID string
}

func (cb *runCallback) DebugData(data string) {
	cb.c.debugData(cb.runID, data)
}

func (cb *runCallback) ResultData(data string) {
	cb.c.resultData(cb.runID, data)
}

// runExecution calls Execute on the execution goroutine.
func (c *Controller) runExecution(ctx context.Context, r *run, cb testcase.Callback) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("test case execution panicked",
				"run_id", r.id,
				"test_name", r.testName,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			r.execErr = fmt.Errorf("panic: %v", rec)
		}
	}()

	if err := r.tc.Execute(ctx, cb); err != nil {
		c.logger.Error("test case execution failed", "run_id", r.id, "test_name", r.testName, "error", err)
		r.execErr = err
	}
}

// supervise queues a check once the execution goroutine returns or the
// execution timeout elapses, whichever comes first. It exits early when the
// run is released.
func (c *Controller) supervise(r *run) {
	timer := time.NewTimer(c.execTimeout)
	defer timer.Stop()

	var task func() error
	select {
	case <-r.released:
		return
	case <-r.done:
		task = func() error { return c.executionReturned(r.id) }
	case <-timer.C:
		task = func() error { return c.executionExpired(r.id) }
	}

	if err := c.queue.Insert(task); err != nil {
		c.logger.Debug("run check not scheduled", "run_id", r.id, "error", err)
	}
}
