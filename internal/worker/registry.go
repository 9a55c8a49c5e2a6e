package worker

import (
	"context"
	"time"
)

// CheckpointFunc is the narrow capability an executor receives for
// reporting progress (spec §9): it blocks on the SaveCheckpoint
// round-trip and returns the refreshed lease deadline so the executor can
// self-pace, or ok=false if the checkpoint was rejected (lease already
// lost — the executor should stop work).
type CheckpointFunc func(state []byte, elapsedMS int64) (deadline time.Time, ok bool, err error)

// Executor is a task function: the worker resolves task_type to one of
// these via the static Registry (spec §9's "becomes a static registry").
// resume is the state blob of the highest-seq checkpoint from a prior
// attempt, or nil on a fresh task.
type Executor func(ctx context.Context, taskID uint64, payload, resume []byte, checkpoint CheckpointFunc) (outcome Outcome, result []byte, err error)

// Outcome mirrors taskdb.Outcome without importing the store package into
// the executor-facing surface — executors should not need to know about
// persistence at all.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Registry maps task_type tags to Executors, populated at startup.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry returns a Registry with the given tag->executor pairs.
func NewRegistry(executors map[string]Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor, len(executors))}
	for k, v := range executors {
		r.executors[k] = v
	}
	return r
}

// Lookup returns the executor for taskType, or ok=false if none is
// registered — the worker's caller must then finalize the task as failed
// with "task type not implemented" (spec §4.7 step 3).
func (r *Registry) Lookup(taskType string) (Executor, bool) {
	e, ok := r.executors[taskType]
	return e, ok
}
