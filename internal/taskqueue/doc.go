// Package taskqueue provides the bounded FIFO task queue and the single
// worker goroutine that drains it. Every task posted to a queue drained by
// one Worker runs on the same goroutine in insertion order, which lets the
// owner of the queue keep its state free of locks.
package taskqueue
