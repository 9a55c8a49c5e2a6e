package taskdb

import "errors"

// Sentinel errors distinguishing the three error kinds of spec §7.
// Contract rejections are returned to the caller and never retried by
// the store itself; everything else is surfaced as an opaque store error
// for the caller to classify as transient.
var (
	// ErrNotFound is returned by GetTask when no such task exists.
	ErrNotFound = errors.New("taskdb: not found")

	// ErrNotOwner is returned when a worker submits a result or checkpoint
	// for a task it does not currently hold the lease on.
	ErrNotOwner = errors.New("taskdb: worker does not own task")

	// ErrLeaseExpired is returned when a worker's lease expired before it
	// could submit — the task may already belong to another worker.
	ErrLeaseExpired = errors.New("taskdb: lease expired")

	// ErrNotInProgress is returned when a Submit/Checkpoint precondition
	// fails because the task isn't currently in_progress at all.
	ErrNotInProgress = errors.New("taskdb: task not in_progress")
)

// IsReject reports whether err represents a contract rejection (REJECT in
// spec terms) as opposed to a transient store failure.
func IsReject(err error) bool {
	return errors.Is(err, ErrNotOwner) || errors.Is(err, ErrLeaseExpired) || errors.Is(err, ErrNotInProgress)
}
