package coordinator_test

import (
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/coordinator"
	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/taskdb/memorydb"
)

func newCoordinator() *coordinator.Coordinator {
	return coordinator.New(memorydb.New(), coordinator.DefaultConfig(), nil, nil)
}

// Scenario 1 (spec §8): single-worker happy path.
func TestSingleWorkerHappyPath(t *testing.T) {
	c := newCoordinator()

	id, err := c.SubmitTask("prime", []byte(`{"limit":1000}`))
	require.NoError(t, err)

	res, err := c.ClaimTask("w1", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, id, res.Task.ID)

	require.NoError(t, c.SubmitResult("w1", id, taskdb.OutcomeSuccess, []byte("168")))

	got, err := c.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, taskdb.StatusCompleted, got.Status)
}

// Scenario 6 (spec §8): unknown task type is the worker's concern, but the
// coordinator must still accept and later finalize a failed submission.
func TestUnknownTaskTypeFinalizesAsFailed(t *testing.T) {
	c := newCoordinator()
	id, err := c.SubmitTask("no_such_type", nil)
	require.NoError(t, err)

	_, err = c.ClaimTask("w1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.SubmitResult("w1", id, taskdb.OutcomeFailed, []byte("task type not implemented")))
	got, err := c.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, taskdb.StatusFailed, got.Status)
}

// P3: no two concurrent ClaimTask calls return the same task_id.
func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	const nWorkers = 8
	const nTasks = 100

	c := newCoordinator()
	for i := 0; i < nTasks; i++ {
		_, err := c.SubmitTask("prime", nil)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = mapset.NewThreadUnsafeSet[uint64]()
		wg      sync.WaitGroup
	)
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			workerID := "w" + string(rune('a'+idx))
			for {
				res, err := c.ClaimTask(workerID, time.Minute)
				require.NoError(t, err)
				if !res.Found {
					return
				}
				mu.Lock()
				added := !claimed.Contains(res.Task.ID)
				claimed.Add(res.Task.ID)
				mu.Unlock()
				require.True(t, added, "task %d claimed twice", res.Task.ID)
				require.NoError(t, c.SubmitResult(workerID, res.Task.ID, taskdb.OutcomeSuccess, nil))
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, nTasks, claimed.Cardinality())
	for i := uint64(1); i <= nTasks; i++ {
		require.True(t, claimed.Contains(i), "task %d was never claimed", i)
	}
}

// P4: attempts equals the number of successful pending->in_progress
// transitions (here: 1, since no reclaim occurs under happy conditions).
func TestAttemptsCountsTransitions(t *testing.T) {
	c := newCoordinator()
	id, err := c.SubmitTask("prime", nil)
	require.NoError(t, err)

	res, err := c.ClaimTask("w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, res.Task.ID)
	require.Equal(t, uint64(1), res.Task.Attempts)
}

// P5: after the monitor reaps a fully-silent fleet, no task is left
// orphaned in_progress.
func TestMonitorLeavesNoOrphanInProgress(t *testing.T) {
	store := memorydb.New()
	c := coordinator.New(store, coordinator.Config{
		DefaultLeaseDuration: time.Hour, // long lease: only worker death should reclaim, not expiry
		WorkerDeadAfter:      2 * time.Second,
		MonitorTick:          50 * time.Millisecond,
	}, nil, nil)

	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := c.SubmitTask("prime", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for range ids {
		res, err := c.ClaimTask("ghost", time.Hour)
		require.NoError(t, err)
		require.True(t, res.Found)
	}

	report, err := store.ReapAndReclaim(2*time.Second, time.Now().Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, report.WorkersReaped)
	require.Equal(t, len(ids), report.TasksReclaimed)

	for _, id := range ids {
		got, err := store.GetTask(id)
		require.NoError(t, err)
		require.NotEqual(t, taskdb.StatusInProgress, got.Status)
	}
}

func TestSubmitResultRejectsWrongWorker(t *testing.T) {
	c := newCoordinator()
	id, err := c.SubmitTask("prime", nil)
	require.NoError(t, err)
	_, err = c.ClaimTask("w1", time.Minute)
	require.NoError(t, err)

	err = c.SubmitResult("w2", id, taskdb.OutcomeSuccess, nil)
	require.ErrorIs(t, err, taskdb.ErrNotOwner)
}

func TestCheckpointRefreshesLeaseIndefinitely(t *testing.T) {
	c := newCoordinator()
	id, err := c.SubmitTask("prime", nil)
	require.NoError(t, err)
	_, err = c.ClaimTask("w1", 200*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		_, err := c.SaveCheckpoint("w1", id, []byte("progress"), int64(i*100), 200*time.Millisecond)
		require.NoError(t, err, "checkpointing every lease/2 must keep the lease alive")
	}

	got, err := c.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, taskdb.StatusInProgress, got.Status)
}
