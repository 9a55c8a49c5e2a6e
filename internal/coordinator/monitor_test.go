package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/coordinator"
	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/taskdb/memorydb"
)

// Scenario 4 (spec §8): a stuck task whose executor never checkpoints is
// reclaimed on lease expiry even though the worker keeps heartbeating.
func TestMonitorReclaimsStuckLeaseWhileWorkerAlive(t *testing.T) {
	store := memorydb.New()
	c := coordinator.New(store, coordinator.Config{
		DefaultLeaseDuration: 100 * time.Millisecond,
		WorkerDeadAfter:      time.Hour, // worker stays "alive" throughout
		MonitorTick:          20 * time.Millisecond,
	}, nil, nil)

	id, err := c.SubmitTask("prime", nil)
	require.NoError(t, err)
	res, err := c.ClaimTask("w1", 0) // 0 selects the 100ms default
	require.NoError(t, err)
	require.Equal(t, id, res.Task.ID)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Monitor(ctx)
	defer cancel()

	require.NoError(t, c.Heartbeat("w1")) // worker is alive, just stuck

	require.Eventually(t, func() bool {
		got, err := c.GetTask(id)
		return err == nil && got.Status == taskdb.StatusPending
	}, time.Second, 10*time.Millisecond, "lease expiry must reclaim even a heartbeating worker's task")

	// The original worker's late submit must now be rejected: the task is
	// back to pending, so it's no longer in_progress under anyone.
	err = c.SubmitResult("w1", id, taskdb.OutcomeSuccess, []byte("168"))
	require.ErrorIs(t, err, taskdb.ErrNotInProgress)
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	c := coordinator.New(memorydb.New(), coordinator.Config{
		DefaultLeaseDuration: time.Second,
		WorkerDeadAfter:      time.Second,
		MonitorTick:          5 * time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Monitor(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop after context cancellation")
	}
}
