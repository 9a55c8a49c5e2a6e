package taskdb

import "time"

// ClaimResult is the payload handed back by Claim: the claimed task plus
// the most recent checkpoint for it, if any (spec §4.2 step 5).
type ClaimResult struct {
	Task       Task
	Checkpoint *Checkpoint
	Found      bool
}

// ReapReport summarizes one monitor-loop tick for logging/metrics.
type ReapReport struct {
	WorkersReaped int
	TasksReclaimed int
}

// Store is the durable backing store's contract. Every method that
// mutates more than one logical row executes as a single serializable
// write transaction in the implementation — the store, not a
// process-local lock, is the synchronization point (spec §5).
//
// Store has two implementations: boltstore (production, backed by
// go.etcd.io/bbolt) and memorydb (an in-memory stand-in used by tests),
// exactly as ethdb.Database is implemented by both leveldb and memorydb
// in the teacher.
type Store interface {
	// SubmitTask inserts a new pending task and returns its assigned id.
	SubmitTask(taskType string, payload []byte, now time.Time) (uint64, error)

	// GetTask returns a snapshot of one task by id.
	GetTask(id uint64) (Task, error)

	// Claim performs the atomic claim algorithm of spec §4.2: ensures the
	// worker is registered/alive, selects the lowest pending task id, and
	// transitions it to in_progress under one write transaction.
	Claim(workerID string, leaseDuration time.Duration, now time.Time) (ClaimResult, error)

	// SubmitResult performs spec §4.3: validates ownership/lease, then
	// atomically records the Result, completes the Task, and drops its
	// Checkpoints.
	SubmitResult(workerID string, taskID uint64, outcome Outcome, blob []byte, now time.Time) error

	// SaveCheckpoint performs spec §4.4: validates ownership/lease, then
	// atomically appends a Checkpoint and refreshes the lease, returning
	// the new lease deadline.
	SaveCheckpoint(workerID string, taskID uint64, state []byte, elapsedMS int64, leaseDuration time.Duration, now time.Time) (time.Time, error)

	// Heartbeat upserts a Worker's liveness record (spec §4.5).
	Heartbeat(workerID string, now time.Time) error

	// ReapAndReclaim runs one monitor-loop tick (spec §4.6): marks stale
	// workers dead, then resets any in_progress task whose lease expired
	// or whose owner is now dead back to pending.
	ReapAndReclaim(workerDeadAfter time.Duration, now time.Time) (ReapReport, error)

	// Stats returns aggregate counts for the Stats operation.
	Stats() (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}
