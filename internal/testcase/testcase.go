package testcase

import (
	"context"
	"errors"
)

// ErrInvalidArgs is wrapped by Configure implementations when the supplied
// arguments are not valid for the test case.
var ErrInvalidArgs = errors.New("invalid test case arguments")

// TestCase is the interface that all test cases must implement. An instance
// is created per run, configured exactly once, executed at most once and
// then discarded.
type TestCase interface {
	// Configure validates and stores the arguments for the run.
	Configure(args []string) error

	// Execute runs the test logic. It reports progress through cb.DebugData
	// and exactly one final result through cb.ResultData before returning.
	// The context is cancelled once the run has been released by the
	// controller; honouring it is optional.
	Execute(ctx context.Context, cb Callback) error
}

// Callback is the surface a running test case reports through.
type Callback interface {
	// DebugData delivers an intermediate progress update.
	DebugData(data string)

	// ResultData delivers the final result of the run.
	ResultData(data string)
}

// Constructor creates a fresh, unconfigured TestCase.
type Constructor func() TestCase
