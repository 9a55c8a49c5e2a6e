// Package storetest is a backend-agnostic conformance suite run against
// both taskdb.Store implementations (memorydb and boltstore), the same
// way ethdb's test suite runs identically against leveldb and memorydb.
package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/taskdb"
)

// RunConformance exercises spec §4 and the boundary cases of spec §8
// against a freshly constructed store.
func RunConformance(t *testing.T, newStore func(t *testing.T) taskdb.Store) {
	t.Run("claim empty queue returns NONE", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		res, err := s.Claim("w1", time.Minute, now)
		require.NoError(t, err)
		require.False(t, res.Found)
	})

	t.Run("submit then claim FIFO", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id1, err := s.SubmitTask("prime", []byte("a"), now)
		require.NoError(t, err)
		id2, err := s.SubmitTask("prime", []byte("b"), now)
		require.NoError(t, err)
		require.Less(t, id1, id2)

		res, err := s.Claim("w1", time.Minute, now)
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, id1, res.Task.ID)
		require.Equal(t, taskdb.StatusInProgress, res.Task.Status)
		require.Equal(t, uint64(1), res.Task.Attempts)
		require.Nil(t, res.Checkpoint)
	})

	t.Run("submit result acks and clears lease", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id, _ := s.SubmitTask("prime", []byte("x"), now)
		claimed, err := s.Claim("w1", time.Minute, now)
		require.NoError(t, err)
		require.Equal(t, id, claimed.Task.ID)

		err = s.SubmitResult("w1", id, taskdb.OutcomeSuccess, []byte("168"), now.Add(time.Second))
		require.NoError(t, err)

		got, err := s.GetTask(id)
		require.NoError(t, err)
		require.Equal(t, taskdb.StatusCompleted, got.Status)
		require.Empty(t, got.AssignedWorker)
		require.Nil(t, got.LeaseExpiresAt)
	})

	t.Run("submit with expired lease is rejected", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id, _ := s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Second, now)
		require.NoError(t, err)

		err = s.SubmitResult("w1", id, taskdb.OutcomeSuccess, nil, now.Add(time.Hour))
		require.ErrorIs(t, err, taskdb.ErrLeaseExpired)

		got, err := s.GetTask(id)
		require.NoError(t, err)
		require.Equal(t, taskdb.StatusInProgress, got.Status, "rejected submit must not write a Result")
	})

	t.Run("submit from wrong worker is rejected", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id, _ := s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Minute, now)
		require.NoError(t, err)

		err = s.SubmitResult("w2", id, taskdb.OutcomeSuccess, nil, now)
		require.ErrorIs(t, err, taskdb.ErrNotOwner)
	})

	t.Run("checkpoint refreshes lease and keeps task owned", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id, _ := s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Second, now)
		require.NoError(t, err)

		lease1, err := s.SaveCheckpoint("w1", id, []byte("state1"), 100, time.Minute, now.Add(500*time.Millisecond))
		require.NoError(t, err)
		require.True(t, lease1.After(now))

		lease2, err := s.SaveCheckpoint("w1", id, []byte("state2"), 200, time.Minute, now.Add(700*time.Millisecond))
		require.NoError(t, err)
		require.True(t, lease2.After(lease1) || lease2.Equal(lease1))

		claimed, err := s.Claim("w2", time.Minute, now.Add(2*time.Second))
		require.NoError(t, err)
		require.False(t, claimed.Found, "task must still be owned, not pending")
	})

	t.Run("monitor reclaims expired lease back to pending preserving attempts", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id, _ := s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Second, now)
		require.NoError(t, err)

		later := now.Add(10 * time.Second)
		err = s.Heartbeat("w1", later) // worker stays alive, only the lease expired
		require.NoError(t, err)

		report, err := s.ReapAndReclaim(time.Minute, later)
		require.NoError(t, err)
		require.Equal(t, 1, report.TasksReclaimed)

		got, err := s.GetTask(id)
		require.NoError(t, err)
		require.Equal(t, taskdb.StatusPending, got.Status)
		require.Empty(t, got.AssignedWorker)
		require.Nil(t, got.LeaseExpiresAt)
		require.Equal(t, uint64(1), got.Attempts)

		reclaimed, err := s.Claim("w2", time.Minute, later)
		require.NoError(t, err)
		require.True(t, reclaimed.Found)
		require.Equal(t, uint64(2), reclaimed.Task.Attempts)
	})

	t.Run("monitor reclaims tasks of dead workers", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id, _ := s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Hour, now) // long lease, but the worker stops heartbeating
		require.NoError(t, err)

		later := now.Add(time.Minute)
		report, err := s.ReapAndReclaim(30*time.Second, later)
		require.NoError(t, err)
		require.Equal(t, 1, report.WorkersReaped)
		require.Equal(t, 1, report.TasksReclaimed)

		got, err := s.GetTask(id)
		require.NoError(t, err)
		require.Equal(t, taskdb.StatusPending, got.Status)
	})

	t.Run("reclaim is idempotent", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		_, _ = s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Second, now)
		require.NoError(t, err)

		later := now.Add(time.Hour)
		r1, err := s.ReapAndReclaim(time.Minute, later)
		require.NoError(t, err)
		r2, err := s.ReapAndReclaim(time.Minute, later.Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, 0, r2.TasksReclaimed, "re-running reclaim must produce no additional effects: got %+v after %+v", r2, r1)
	})

	t.Run("stats counts by status and worker liveness", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		id1, _ := s.SubmitTask("prime", nil, now)
		_, _ = s.SubmitTask("prime", nil, now)
		_, err := s.Claim("w1", time.Minute, now)
		require.NoError(t, err)
		require.NoError(t, s.SubmitResult("w1", id1, taskdb.OutcomeSuccess, nil, now))

		st, err := s.Stats()
		require.NoError(t, err)
		require.Equal(t, 1, st.Pending)
		require.Equal(t, 1, st.Completed)
		require.Equal(t, 1, st.WorkersAlive)
	})
}
