package boltstore

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/distqueue/distqueue/internal/taskdb"
)

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// leaseKey is lease_expires_at‖task_id, 16 bytes, so bbolt's natural
// byte-sorted iteration order is both lease-expiry order (for the
// monitor's reclaim scan) and, for a fixed lease, task_id order.
func leaseKey(at time.Time, id uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(b[8:], id)
	return b
}

func checkpointKey(taskID, seq uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], taskID)
	binary.BigEndian.PutUint64(b[8:], seq)
	return b
}

func nextTaskID(tx *bbolt.Tx) (uint64, error) {
	mb := tx.Bucket(metaBucket)
	var cur uint64
	if v := mb.Get(nextIDKey); v != nil {
		cur = binary.BigEndian.Uint64(v)
	}
	cur++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cur)
	if err := mb.Put(nextIDKey, buf); err != nil {
		return 0, err
	}
	return cur, nil
}

func putTask(tx *bbolt.Tx, t taskdb.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return tx.Bucket(tasksBucket).Put(idKey(t.ID), b)
}

func getTask(tx *bbolt.Tx, id uint64) (taskdb.Task, error) {
	v := tx.Bucket(tasksBucket).Get(idKey(id))
	if v == nil {
		return taskdb.Task{}, taskdb.ErrNotFound
	}
	var t taskdb.Task
	if err := json.Unmarshal(v, &t); err != nil {
		return taskdb.Task{}, err
	}
	return t, nil
}

func touchWorker(tx *bbolt.Tx, workerID string, now time.Time) error {
	w := taskdb.Worker{ID: workerID, LastHeartbeatAt: now, Status: taskdb.WorkerAlive}
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return tx.Bucket(workersBucket).Put([]byte(workerID), b)
}

func checkOwnership(t taskdb.Task, workerID string, now time.Time) error {
	if t.Status != taskdb.StatusInProgress {
		return taskdb.ErrNotInProgress
	}
	if t.AssignedWorker != workerID {
		return taskdb.ErrNotOwner
	}
	if t.LeaseExpiresAt == nil || t.LeaseExpiresAt.Before(now) {
		return taskdb.ErrLeaseExpired
	}
	return nil
}

// latestCheckpoint returns the highest-seq checkpoint for taskID, or nil
// if none exists. Checkpoint keys share the taskID prefix, so it scans
// forward from that prefix over the task's rows and keeps the highest seq.
func latestCheckpoint(tx *bbolt.Tx, taskID uint64) (*taskdb.Checkpoint, error) {
	b := tx.Bucket(checkpointsBucket)
	c := b.Cursor()
	prefix := idKey(taskID)

	var last *taskdb.Checkpoint
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var cp taskdb.Checkpoint
		if err := json.Unmarshal(v, &cp); err != nil {
			return nil, err
		}
		if last == nil || cp.Seq > last.Seq {
			cpCopy := cp
			last = &cpCopy
		}
	}
	return last, nil
}

func deleteCheckpoints(tx *bbolt.Tx, taskID uint64) error {
	b := tx.Bucket(checkpointsBucket)
	c := b.Cursor()
	prefix := idKey(taskID)

	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
