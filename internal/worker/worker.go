// ============================================================================
// schedctl Worker - Command Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs queued job commands, each Worker in its own goroutine
//
// How it works:
//   Each Worker loops until taskCh is closed:
//   1. Receive task from taskCh (blocking wait)
//   2. Run the handler with the pool context
//   3. Send result to resultCh
//
// Results are always delivered: resultCh is sized by the pool so a bulk
// submission never drops an outcome.
//
// ============================================================================

package worker

import (
	"context"
	"time"
)

// Worker represents a work execution unit
type Worker struct {
	id       int // Worker unique identifier, used for logging
	ctx      context.Context
	handler  Handler
	taskCh   <-chan Task
	resultCh chan<- Result
}

// newWorker creates a new Worker instance
func newWorker(ctx context.Context, id int, handler Handler, taskCh <-chan Task, resultCh chan<- Result) *Worker {
	return &Worker{
		id:       id,
		ctx:      ctx,
		handler:  handler,
		taskCh:   taskCh,
		resultCh: resultCh,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()
		outcome := w.handler(w.ctx, task)

		w.resultCh <- Result{
			JobID:    task.JobID,
			Command:  task.Command,
			Outcome:  outcome,
			Duration: time.Since(start),
		}
		log.Debug("task finished", "worker", w.id, "jobID", task.JobID, "command", task.Command, "ok", outcome.OK)
	}
}
