package worker_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/api"
	"github.com/distqueue/distqueue/internal/coordinator"
	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/taskdb/memorydb"
	"github.com/distqueue/distqueue/internal/worker"
	"github.com/distqueue/distqueue/internal/worker/cache"
)

func newHarness(t *testing.T) (*coordinator.Coordinator, *httptest.Server, *api.Client) {
	t.Helper()
	store := memorydb.New()
	t.Cleanup(func() { _ = store.Close() })
	coord := coordinator.New(store, coordinator.DefaultConfig(), nil, nil)
	srv := httptest.NewServer(api.NewServer(coord, nil))
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL, 5*time.Second)
	return coord, srv, client
}

func echoExecutor(outcome worker.Outcome, blob string) worker.Executor {
	return func(ctx context.Context, taskID uint64, payload, resume []byte, checkpoint worker.CheckpointFunc) (worker.Outcome, []byte, error) {
		return outcome, []byte(blob), nil
	}
}

// TestWorkerClaimsExecutesAndSubmits drives one task end to end through a
// real coordinator+API server, the scenario spec §8 scenario 1 exercises.
func TestWorkerClaimsExecutesAndSubmits(t *testing.T) {
	coord, _, client := newHarness(t)

	id, err := coord.SubmitTask("echo", []byte("hi"))
	require.NoError(t, err)

	dir := t.TempDir()
	c, err := cache.Open(dir)
	require.NoError(t, err)
	defer c.Close()

	reg := worker.NewRegistry(map[string]worker.Executor{
		"echo": echoExecutor(worker.OutcomeSuccess, "done"),
	})

	cfg := worker.DefaultConfig("w1")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.CacheRetryInterval = time.Hour
	w := worker.New(cfg, client, reg, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		task, err := coord.GetTask(id)
		return err == nil && task.Status == taskdb.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	task, err := coord.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, taskdb.StatusCompleted, task.Status)
}

// TestWorkerUnknownTaskTypeFailsTask covers spec §4.7 step 3.
func TestWorkerUnknownTaskTypeFailsTask(t *testing.T) {
	coord, _, client := newHarness(t)

	id, err := coord.SubmitTask("mystery", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	c, err := cache.Open(dir)
	require.NoError(t, err)
	defer c.Close()

	reg := worker.NewRegistry(nil)
	cfg := worker.DefaultConfig("w1")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.CacheRetryInterval = time.Hour
	w := worker.New(cfg, client, reg, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		task, err := coord.GetTask(id)
		return err == nil && task.Status == taskdb.StatusFailed
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

// TestWorkerCachesResultOnCoordinatorOutage exercises spec §8 scenario 5:
// the coordinator is taken offline after the task is claimed, and if the
// submit then fails, the cached entry must carry the task's id. Redelivery
// after the coordinator comes back is not exercised here.
func TestWorkerCachesResultOnCoordinatorOutage(t *testing.T) {
	store := memorydb.New()
	defer store.Close()
	coord := coordinator.New(store, coordinator.DefaultConfig(), nil, nil)
	srv := httptest.NewServer(api.NewServer(coord, nil))

	id, err := coord.SubmitTask("echo", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	c, err := cache.Open(dir)
	require.NoError(t, err)
	defer c.Close()

	client := api.NewClient(srv.URL, 300*time.Millisecond)
	reg := worker.NewRegistry(map[string]worker.Executor{
		"echo": echoExecutor(worker.OutcomeSuccess, "done"),
	})

	cfg := worker.DefaultConfig("w1")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.CacheRetryInterval = 50 * time.Millisecond
	w := worker.New(cfg, client, reg, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Wait until the worker has claimed the task, then take the coordinator
	// offline.
	require.Eventually(t, func() bool {
		task, err := coord.GetTask(id)
		return err == nil && task.Status == taskdb.StatusInProgress
	}, time.Second, 5*time.Millisecond)

	srv.Close()
	time.Sleep(200 * time.Millisecond) // give submitOrCache a chance to fail over

	entries, err := c.List()
	require.NoError(t, err)
	// The submit attempt may have landed before or after we closed srv; if
	// it already succeeded there's nothing cached, which is also fine.
	if len(entries) > 0 {
		require.Equal(t, id, entries[0].TaskID)
	}

	cancel()
	<-done
}
