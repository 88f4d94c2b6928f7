// Package controller provides the DUT test controller. It owns the test
// case registry and a single task worker, and sequences configuration,
// execution, timeout-bounded completion and status reporting of one test
// case at a time. Every mutation of run state is routed through the task
// queue, so the worker goroutine is the only goroutine that touches it.
package controller
