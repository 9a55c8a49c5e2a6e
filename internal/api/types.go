// Package api is the REST/JSON transport of spec §6, built on gorilla/mux.
// It is a thin adapter: every handler decodes a request, calls exactly one
// coordinator.Coordinator method, and encodes the result or error. None of
// the core's invariants live here.
package api

import (
	"encoding/json"
	"time"

	"github.com/distqueue/distqueue/internal/taskdb"
)

type submitTaskRequest struct {
	TaskType string `json:"task_type"`
	Payload  []byte `json:"payload"`
}

type submitTaskResponse struct {
	TaskID uint64 `json:"task_id"`
}

type claimRequest struct {
	WorkerID      string        `json:"worker_id"`
	LeaseDuration time.Duration `json:"lease_duration,omitempty"`
}

type claimResponse struct {
	Found      bool               `json:"found"`
	Task       *taskdb.Task       `json:"task,omitempty"`
	Checkpoint *taskdb.Checkpoint `json:"checkpoint,omitempty"`
}

type submitResultRequest struct {
	WorkerID string        `json:"worker_id"`
	Outcome  taskdb.Outcome `json:"outcome"`
	Blob     []byte        `json:"result_blob"`
}

type checkpointRequest struct {
	WorkerID  string `json:"worker_id"`
	State     []byte `json:"state"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type checkpointResponse struct {
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

type errorBody struct {
	Reject string `json:"reject,omitempty"`
	Error  string `json:"error,omitempty"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // only ever marshaling our own well-formed types.
	}
	return b
}
