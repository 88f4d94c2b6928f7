package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/seantiz/dutharness/internal/model"
	"github.com/seantiz/dutharness/internal/taskqueue"
	"github.com/seantiz/dutharness/internal/testcase"
)

// Default timeouts applied when Options leaves them unset.
const (
	DefaultJoinTimeout      = 20 * time.Second
	DefaultExecutionTimeout = 20 * time.Second
)

const externalTerminationMsg = "External termination of a test case"

var (
	// ErrInvalidTestName is returned when ConfigureTest is called without a name.
	ErrInvalidTestName = errors.New("test case name is invalid")

	// ErrScheduling is returned when a request could not be queued.
	ErrScheduling = errors.New("request could not be scheduled")

	// ErrAlreadyRunning describes a configure request made while a run is active.
	ErrAlreadyRunning = errors.New("a test case is already running on the DUT")

	// ErrSequencing is returned to the worker when execution is requested
	// without a configured test case or while one is already executing.
	ErrSequencing = errors.New("test case is not configured or it is already running")

	// ErrTimeout describes a run whose execution did not end in time.
	ErrTimeout = errors.New("timed out waiting for test case execution")
)

// Transferer delivers status reports to the external test system. It is
// called from the worker goroutine and, for requests rejected before they
// reach the queue, from the caller's goroutine, so implementations must be
// safe for concurrent use.
type Transferer interface {
	TransferData(r model.Report)
}

// Options tunes a Controller. Zero values select the defaults.
type Options struct {
	// QueueCapacity bounds the number of pending tasks.
	QueueCapacity int

	// JoinTimeout bounds the wait for the execution goroutine after a
	// result, or an external termination, has been received.
	JoinTimeout time.Duration

	// ExecutionTimeout bounds how long a started test case may run without
	// delivering a result before it is failed and abandoned.
	ExecutionTimeout time.Duration
}

// Controller orchestrates the lifecycle of one test case at a time.
type Controller struct {
	registry *testcase.Registry
	transfer Transferer
	logger   *slog.Logger
	queue    *taskqueue.Queue
	worker   *taskqueue.Worker

	joinTimeout time.Duration
	execTimeout time.Duration

	// Owned by the worker goroutine.
	state State
	run   *run

	closeOnce sync.Once
}

// Compile-time check that the controller exposes the callback surface.
var _ testcase.Callback = (*Controller)(nil)

// New creates a controller and starts its task worker.
func New(reg *testcase.Registry, t Transferer, logger *slog.Logger, opts Options) *Controller {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultExecutionTimeout
	}

	q := taskqueue.NewQueue(opts.QueueCapacity)
	c := &Controller{
		registry:    reg,
		transfer:    t,
		logger:      logger,
		queue:       q,
		worker:      taskqueue.NewWorker(q, logger),
		joinTimeout: opts.JoinTimeout,
		execTimeout: opts.ExecutionTimeout,
		state:       StateIdle,
	}
	c.worker.Start()
	return c
}

// ConfigureTest schedules creation and configuration of the named test case
// and returns the ID assigned to the run. The outcome is delivered through
// the Transferer. An empty name is rejected synchronously.
func (c *Controller) ConfigureTest(name string, args []string) (string, error) {
	if name == "" {
		msg := "Cannot configure a test case: a test case name is invalid."
		c.logger.Error("configure rejected", "error", ErrInvalidTestName)
		c.report(model.Report{Status: model.StatusFailed, Data: msg})
		rejectedTotal.Inc()
		return "", ErrInvalidTestName
	}

	runID := model.NewID()
	args = slices.Clone(args)
	err := c.queue.Insert(func() error {
		return c.configure(runID, name, args)
	})
	if err != nil {
		msg := fmt.Sprintf("Test case %q will not be executed on the DUT because of a scheduling failure.", name)
		c.logger.Error("configure not scheduled", "run_id", runID, "test_name", name, "error", err)
		c.report(model.Report{RunID: runID, TestName: name, Status: model.StatusFailed, Data: msg})
		return runID, fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	return runID, nil
}

// StartTest schedules execution of the configured test case.
func (c *Controller) StartTest() error {
	if err := c.queue.Insert(c.execute); err != nil {
		msg := "A test case will not be executed because of a scheduling failure."
		c.logger.Error("start not scheduled", "error", err)
		c.report(model.Report{Status: model.StatusFailed, Data: msg})
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	return nil
}

// DebugData queues a progress report for the active run.
func (c *Controller) DebugData(data string) {
	c.debugData("", data)
}

// ResultData queues termination handling of the active run with the given result.
func (c *Controller) ResultData(data string) {
	c.resultData("", data)
}

// State returns a snapshot of the controller as observed by the worker,
// after every task queued before the call has run.
func (c *Controller) State(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	err := c.queue.Insert(func() error {
		s := Snapshot{State: c.state}
		if c.run != nil {
			s.RunID = c.run.id
			s.TestName = c.run.testName
		}
		result <- s
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrScheduling, err)
	}

	select {
	case s := <-result:
		s.QueueLen = c.queue.Len()
		return s, nil
	case <-c.worker.Done():
		select {
		case s := <-result:
			return s, nil
		default:
		}
		return Snapshot{}, fmt.Errorf("%w: %w", ErrScheduling, taskqueue.ErrShutdown)
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Close terminates the active run, if any, with an external termination
// report, then stops the worker. Tasks queued behind the termination are
// discarded. It blocks for at most the join timeout plus the time needed to
// drain tasks queued before it. Close is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		err := c.queue.Insert(func() error {
			defer close(done)
			// No task queued after this one may create or start a run.
			defer c.queue.Shutdown()
			return c.endExecution("", externalTerminationMsg)
		})
		if err == nil {
			<-done
		} else {
			c.logger.Warn("termination not scheduled, terminating inline", "error", err)
		}

		c.worker.Stop()

		// The worker has exited, so run state is safe to touch here.
		if c.run != nil {
			_ = c.endExecution("", externalTerminationMsg)
		}
	})
	return nil
}

// configure creates and configures a test case. It runs on the worker.
func (c *Controller) configure(runID, name string, args []string) error {
	if c.run != nil {
		msg := fmt.Sprintf("Cannot configure a test case named %q: %s.", name, ErrAlreadyRunning)
		c.logger.Error("configure rejected",
			"run_id", runID,
			"test_name", name,
			"active_run_id", c.run.id,
			"error", ErrAlreadyRunning,
		)
		c.report(model.Report{RunID: runID, TestName: name, Status: model.StatusFailed, Data: msg})
		rejectedTotal.Inc()
		return nil
	}

	c.setState(StateConfiguring)

	tc, err := c.newTestCase(name, args)
	if err != nil {
		c.logger.Error("configure test case", "run_id", runID, "test_name", name, "error", err)
		c.report(model.Report{RunID: runID, TestName: name, Status: model.StatusFailed, Data: err.Error()})
		rejectedTotal.Inc()
		c.setState(StateIdle)
		return nil
	}

	c.run = newRun(runID, name, tc)
	c.setState(StateConfigured)
	c.logger.Info("test case configured", "run_id", runID, "test_name", name, "args", len(args))
	c.reportRun(c.run, model.StatusInProgress, fmt.Sprintf("Test case %q configured.", name))
	return nil
}

// newTestCase creates the named test case and configures it with args,
// converting a panic in test case code into an error.
func (c *Controller) newTestCase(name string, args []string) (tc testcase.TestCase, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("test case configuration panicked", "test_name", name, "panic", rec)
			tc = nil
			err = fmt.Errorf("an unknown error occurred while configuring test case %q", name)
		}
	}()

	tc, err = c.registry.Create(name)
	if err != nil {
		return nil, err
	}
	if err := tc.Configure(args); err != nil {
		return nil, fmt.Errorf("configure test case %q: %w", name, err)
	}
	return tc, nil
}

// execute starts the configured test case on its own goroutine. It runs on
// the worker.
func (c *Controller) execute() error {
	r := c.run
	if r == nil || r.started() {
		msg := "Test case is not configured or it is already running on the DUT."
		// The report is not tied to the active run: that run keeps its single
		// terminal report.
		c.report(model.Report{Status: model.StatusFailed, Data: msg})
		return ErrSequencing
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.startedAt = time.Now()

	c.setState(StateRunning)
	activeRuns.Set(1)
	c.logger.Info("test case execution started", "run_id", r.id, "test_name", r.testName)
	c.reportRun(r, model.StatusInProgress, "Test case execution started.")

	go c.runExecution(ctx, r, &runCallback{c: c, runID: r.id})
	go c.supervise(r)
	return nil
}

// endExecution handles a delivered result or an external termination: it
// waits, bounded by the join timeout, for the execution goroutine and then
// reports the terminal status and releases the run. An empty runID targets
// whichever run is active. It runs on the worker.
func (c *Controller) endExecution(runID, data string) error {
	r := c.current(runID)
	if r == nil {
		if runID != "" {
			c.logger.Warn("result for inactive run dropped", "run_id", runID)
		}
		return nil
	}

	if !r.started() {
		c.finish(r, model.StatusFailed, data+". Test case was terminated before it was started.")
		return nil
	}

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		if r.execErr != nil {
			c.finish(r, model.StatusFailed, fmt.Sprintf("%s. Test case execution failed: %v", data, r.execErr))
			return nil
		}
		c.finish(r, model.StatusFinished, data)
	case <-timer.C:
		c.logger.Error("test case execution did not end",
			"run_id", r.id,
			"test_name", r.testName,
			"join_timeout", c.joinTimeout.String(),
			"error", ErrTimeout,
		)
		c.finish(r, model.StatusFailed, data+". Time out reached while waiting for test case execution to end.")
	}
	return nil
}

// executionReturned fails a run whose Execute returned without delivering
// a result. It runs on the worker.
func (c *Controller) executionReturned(runID string) error {
	r := c.current(runID)
	if r == nil {
		return nil
	}

	msg := "Test case execution ended without reporting a result."
	if r.execErr != nil {
		msg = fmt.Sprintf("Test case execution failed: %v", r.execErr)
	}
	c.finish(r, model.StatusFailed, msg)
	return nil
}

// executionExpired fails and abandons a run that neither returned nor
// delivered a result within the execution timeout. It runs on the worker.
func (c *Controller) executionExpired(runID string) error {
	r := c.current(runID)
	if r == nil {
		return nil
	}

	c.logger.Error("test case execution abandoned",
		"run_id", r.id,
		"test_name", r.testName,
		"execution_timeout", c.execTimeout.String(),
		"error", ErrTimeout,
	)
	c.finish(r, model.StatusFailed, fmt.Sprintf("Test case did not report a result within %s: %v.", c.execTimeout, ErrTimeout))
	return nil
}

func (c *Controller) debugData(runID, data string) {
	err := c.queue.Insert(func() error {
		r := c.current(runID)
		if r == nil {
			c.logger.Warn("debug data for inactive run dropped", "run_id", runID)
			return nil
		}
		c.reportRun(r, model.StatusInProgress, data)
		return nil
	})
	if err != nil {
		c.logger.Warn("debug data not scheduled", "run_id", runID, "error", err)
	}
}

func (c *Controller) resultData(runID, data string) {
	err := c.queue.Insert(func() error {
		return c.endExecution(runID, data)
	})
	if err != nil {
		c.logger.Warn("result data not scheduled", "run_id", runID, "error", err)
	}
}

// current returns the active run if it matches runID. An empty runID
// matches any active run.
func (c *Controller) current(runID string) *run {
	if c.run == nil {
		return nil
	}
	if runID != "" && c.run.id != runID {
		return nil
	}
	return c.run
}

// finish delivers the terminal report of r and releases it.
func (c *Controller) finish(r *run, status model.Status, data string) {
	c.reportRun(r, status, data)

	runsTotal.WithLabelValues(string(status)).Inc()
	if r.started() {
		runDuration.Observe(time.Since(r.startedAt).Seconds())
	}
	c.logger.Info("test case run ended", "run_id", r.id, "test_name", r.testName, "status", status)

	r.release()
	c.run = nil
	activeRuns.Set(0)
	c.setState(StateIdle)
}

func (c *Controller) report(r model.Report) {
	r.CreatedAt = time.Now().UTC()
	c.transfer.TransferData(r)
}

func (c *Controller) reportRun(r *run, status model.Status, data string) {
	c.report(model.Report{
		RunID:    r.id,
		TestName: r.testName,
		Status:   status,
		Data:     data,
		Seq:      r.nextSeq(),
	})
}
