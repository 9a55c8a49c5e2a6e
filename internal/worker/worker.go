// Package worker implements the worker side of the system (spec §4.7,
// §4.8): the claim/execute/submit loop, a concurrent heartbeat ticker, and
// the durable submission cache that survives short coordinator outages.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/distqueue/distqueue/internal/api"
	"github.com/distqueue/distqueue/internal/logging"
	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/worker/cache"
)

// Config holds the per-worker tunables of spec §6.
type Config struct {
	WorkerID           string
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	LeaseDuration      time.Duration // 0 lets the coordinator pick its default
	CacheRetryInterval time.Duration
	CacheTTL           time.Duration
}

// DefaultConfig matches spec §4.7/§4.8's stated defaults.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:           workerID,
		PollInterval:       5 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		CacheRetryInterval: 20 * time.Second,
		CacheTTL:           3600 * time.Second,
	}
}

// Worker is a single cooperative claim/execute/submit loop plus two
// supporting goroutines (heartbeat, cache retry). No internal parallelism
// beyond that: one task at a time per process, scale by running more
// processes (spec §4.7).
type Worker struct {
	cfg      Config
	client   *api.Client
	registry *Registry
	cache    *cache.Cache
	log      *logging.Logger

	current atomic.Uint64 // current task id, 0 if idle; read by the heartbeat goroutine for logging only
}

// New constructs a Worker. client should be built with a longer timeout
// for Submit than the default control-op client, per spec §5.
func New(cfg Config, client *api.Client, registry *Registry, c *cache.Cache) *Worker {
	return &Worker{
		cfg:      cfg,
		client:   client,
		registry: registry,
		cache:    c,
		log:      logging.New("component", "worker", "worker_id", cfg.WorkerID),
	}
}

// Run drains the submission cache, starts the heartbeat and cache-retry
// goroutines, then loops claim/execute/submit until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.client.Heartbeat(ctx, w.cfg.WorkerID); err != nil {
		w.log.Warn("startup heartbeat failed, continuing anyway", "err", err)
	}

	if err := w.drainCacheAtStartup(ctx); err != nil {
		return err
	}

	go w.heartbeatLoop(ctx)
	go w.cacheRetryLoop(ctx)

	for {
		if ctx.Err() != nil {
			w.log.Info("worker shutting down")
			return nil
		}

		task, resume, checkpoint, ok, err := w.claim(ctx)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		w.current.Store(task.ID)
		outcome, blob := w.execute(ctx, task, resume, checkpoint)
		w.current.Store(0)

		w.submitOrCache(ctx, task.ID, outcome, blob)
	}
}

// claim polls ClaimTask every PollInterval until a task is returned or ctx
// is cancelled (spec §4.7 step 2).
func (w *Worker) claim(ctx context.Context) (taskdb.Task, []byte, CheckpointFunc, bool, error) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := w.client.Claim(ctx, w.cfg.WorkerID, w.cfg.LeaseDuration)
		if err != nil {
			w.log.Warn("claim failed, will retry", "err", err)
		} else if res.Found {
			var resume []byte
			if res.Checkpoint != nil {
				resume = res.Checkpoint.State
			}
			return res.Task, resume, w.checkpointFunc(res.Task.ID), true, nil
		}

		select {
		case <-ctx.Done():
			return taskdb.Task{}, nil, nil, false, nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) checkpointFunc(taskID uint64) CheckpointFunc {
	return func(state []byte, elapsedMS int64) (time.Time, bool, error) {
		return w.client.SaveCheckpoint(context.Background(), w.cfg.WorkerID, taskID, state, elapsedMS)
	}
}

// execute resolves task_type and runs the executor (spec §4.7 steps 3-4).
// resume is the state blob of the highest-seq checkpoint from a prior
// attempt (spec §8 scenario 3), or nil on a fresh claim.
func (w *Worker) execute(ctx context.Context, task taskdb.Task, resume []byte, checkpoint CheckpointFunc) (taskdb.Outcome, []byte) {
	exec, ok := w.registry.Lookup(task.Type)
	if !ok {
		w.log.Error("unknown task type", "id", task.ID, "type", task.Type)
		return taskdb.OutcomeFailed, []byte("task type not implemented")
	}

	outcome, result, err := exec(ctx, task.ID, task.Payload, resume, checkpoint)
	if err != nil {
		w.log.Error("executor error", "id", task.ID, "err", err)
		return taskdb.OutcomeFailed, []byte(err.Error())
	}
	if outcome == OutcomeSuccess {
		return taskdb.OutcomeSuccess, result
	}
	return taskdb.OutcomeFailed, result
}

// submitOrCache implements spec §4.7 step 5: ACK loops, REJECT discards,
// transport error enters cache mode.
func (w *Worker) submitOrCache(ctx context.Context, taskID uint64, outcome taskdb.Outcome, blob []byte) {
	ack, err := w.client.SubmitResult(ctx, w.cfg.WorkerID, taskID, outcome, blob)
	if err == nil {
		if ack {
			w.log.Info("result submitted", "id", taskID, "outcome", outcome)
		} else {
			w.log.Warn("result rejected, discarding (lease lost)", "id", taskID)
		}
		return
	}

	if !errors.Is(err, api.ErrTransient) {
		w.log.Error("submit failed permanently, discarding result", "id", taskID, "err", err)
		return
	}

	w.log.Warn("coordinator unreachable, caching result", "id", taskID, "err", err)
	entry := cache.Entry{TaskID: taskID, WorkerID: w.cfg.WorkerID, Outcome: outcome, Blob: blob, CreatedAt: time.Now()}
	if err := w.cache.Put(entry); err != nil {
		w.log.Error("failed to cache undelivered result", "id", taskID, "err", err)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Heartbeat(ctx, w.cfg.WorkerID); err != nil {
				w.log.Warn("heartbeat failed", "err", err, "current_task", w.current.Load())
			}
		}
	}
}

func (w *Worker) cacheRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CacheRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.retryCacheOnce(ctx)
		}
	}
}

// drainCacheAtStartup blocks, retrying on CacheRetryInterval, until the
// cache recovered from a prior run is empty — spec §4.8's "recovered on
// worker restart and drained before the worker claims new tasks."
func (w *Worker) drainCacheAtStartup(ctx context.Context) error {
	for {
		entries, err := w.cache.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		w.log.Info("draining recovered submission cache", "entries", len(entries))
		w.retryCacheOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.CacheRetryInterval):
		}
	}
}

func (w *Worker) retryCacheOnce(ctx context.Context) {
	entries, err := w.cache.List()
	if err != nil {
		w.log.Error("cache list failed", "err", err)
		return
	}
	now := time.Now()
	for _, e := range entries {
		if now.Sub(e.CreatedAt) > w.cfg.CacheTTL {
			w.log.Warn("dropping cached result past TTL", "id", e.TaskID, "age", now.Sub(e.CreatedAt))
			_ = w.cache.Delete(e.TaskID)
			continue
		}

		ack, err := w.client.SubmitResult(ctx, e.WorkerID, e.TaskID, e.Outcome, e.Blob)
		if err != nil {
			if errors.Is(err, api.ErrTransient) {
				continue // leave for next cycle
			}
			w.log.Error("cache retry failed permanently, dropping", "id", e.TaskID, "err", err)
			_ = w.cache.Delete(e.TaskID)
			continue
		}
		// Both ACK and REJECT remove the cached entry: ACK means
		// delivered, REJECT means the result is meaningless now.
		if ack {
			w.log.Info("cached result delivered", "id", e.TaskID)
		} else {
			w.log.Warn("cached result rejected (lease lost), discarding", "id", e.TaskID)
		}
		_ = w.cache.Delete(e.TaskID)
	}
}
