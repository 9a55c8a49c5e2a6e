// Package coordinator implements the coordinator's task-lifecycle engine:
// the operations of spec §4.1–§4.5 and §6, mediating all access to a
// taskdb.Store and publishing lifecycle transitions onto an event.Feed.
// It knows nothing about transport — internal/api adapts these methods
// onto HTTP.
package coordinator

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/distqueue/distqueue/internal/event"
	"github.com/distqueue/distqueue/internal/logging"
	"github.com/distqueue/distqueue/internal/metrics"
	"github.com/distqueue/distqueue/internal/taskdb"
)

// Config holds the tunables named in spec §4.6 and §6.
type Config struct {
	DefaultLeaseDuration time.Duration
	WorkerDeadAfter      time.Duration
	MonitorTick          time.Duration
}

// DefaultConfig matches the defaults given in spec §4.6.
func DefaultConfig() Config {
	return Config{
		DefaultLeaseDuration: 120 * time.Second,
		WorkerDeadAfter:      60 * time.Second,
		MonitorTick:          time.Second,
	}
}

// Coordinator is the engine behind every operation in spec §6 except the
// transport framing itself.
type Coordinator struct {
	store   taskdb.Store
	cfg     Config
	feed    *event.Feed
	metrics *metrics.Registry
	log     *logging.Logger

	readCache *lru.Cache // task_id -> taskdb.Task, for hot GetTask reads
}

// New constructs a Coordinator over store. reg and feed may be nil, in
// which case a fresh registry/feed is used.
func New(store taskdb.Store, cfg Config, reg *metrics.Registry, feed *event.Feed) *Coordinator {
	if reg == nil {
		reg = metrics.New()
	}
	if feed == nil {
		feed = &event.Feed{}
	}
	cache, _ := lru.New(1024)
	return &Coordinator{
		store:     store,
		cfg:       cfg,
		feed:      feed,
		metrics:   reg,
		log:       logging.New("component", "coordinator"),
		readCache: cache,
	}
}

// Events exposes the lifecycle feed for the API layer's SSE endpoint.
func (c *Coordinator) Events() *event.Feed { return c.feed }

// Metrics exposes the registry for the API layer's /metrics endpoint.
func (c *Coordinator) Metrics() *metrics.Registry { return c.metrics }

// SubmitTask implements spec §4.1.
func (c *Coordinator) SubmitTask(taskType string, payload []byte) (uint64, error) {
	id, err := c.store.SubmitTask(taskType, payload, time.Now())
	if err != nil {
		return 0, fmt.Errorf("coordinator: submit task: %w", err)
	}
	c.metrics.TasksSubmitted.Inc(1)
	c.log.Info("task submitted", "id", id, "type", taskType)
	c.feed.Send(event.TaskEvent{Kind: event.KindSubmitted, TaskID: id})
	c.invalidate(id)
	return id, nil
}

// GetTask implements the read-only GetTask operation of spec §6. Reads are
// served from an LRU cache that every mutating operation invalidates, so a
// cache hit is always as fresh as the last completed transition.
func (c *Coordinator) GetTask(id uint64) (taskdb.Task, error) {
	if v, ok := c.readCache.Get(id); ok {
		return v.(taskdb.Task), nil
	}
	t, err := c.store.GetTask(id)
	if err != nil {
		return taskdb.Task{}, err
	}
	c.readCache.Add(id, t)
	return t, nil
}

// Stats implements the Stats operation of spec §6.
func (c *Coordinator) Stats() (taskdb.Stats, error) {
	return c.store.Stats()
}

// Health implements the Health operation of spec §6: ok as long as the
// process can answer at all.
func (c *Coordinator) Health() bool { return true }

// ClaimTask implements spec §4.2. leaseDuration of zero selects
// cfg.DefaultLeaseDuration.
func (c *Coordinator) ClaimTask(workerID string, leaseDuration time.Duration) (taskdb.ClaimResult, error) {
	if leaseDuration <= 0 {
		leaseDuration = c.cfg.DefaultLeaseDuration
	}
	defer c.metrics.TimeClaim()()

	res, err := c.store.Claim(workerID, leaseDuration, time.Now())
	if err != nil {
		return taskdb.ClaimResult{}, fmt.Errorf("coordinator: claim: %w", err)
	}
	if !res.Found {
		return res, nil
	}
	c.metrics.TasksClaimed.Inc(1)
	c.log.Info("task claimed", "id", res.Task.ID, "worker", workerID, "attempts", res.Task.Attempts)
	c.feed.Send(event.TaskEvent{Kind: event.KindClaimed, TaskID: res.Task.ID, Worker: workerID})
	c.invalidate(res.Task.ID)
	return res, nil
}

// SubmitResult implements spec §4.3.
func (c *Coordinator) SubmitResult(workerID string, taskID uint64, outcome taskdb.Outcome, blob []byte) error {
	err := c.store.SubmitResult(workerID, taskID, outcome, blob, time.Now())
	if err != nil {
		if taskdb.IsReject(err) {
			c.log.Warn("result rejected", "id", taskID, "worker", workerID, "reason", err)
			return err
		}
		return fmt.Errorf("coordinator: submit result: %w", err)
	}

	kind := event.KindCompleted
	if outcome == taskdb.OutcomeFailed {
		kind = event.KindFailed
		c.metrics.TasksFailed.Inc(1)
	} else {
		c.metrics.TasksCompleted.Inc(1)
	}
	c.log.Info("task finished", "id", taskID, "worker", workerID, "outcome", outcome)
	c.feed.Send(event.TaskEvent{Kind: kind, TaskID: taskID, Worker: workerID})
	c.invalidate(taskID)
	return nil
}

// SaveCheckpoint implements spec §4.4.
func (c *Coordinator) SaveCheckpoint(workerID string, taskID uint64, state []byte, elapsedMS int64, leaseDuration time.Duration) (time.Time, error) {
	if leaseDuration <= 0 {
		leaseDuration = c.cfg.DefaultLeaseDuration
	}
	lease, err := c.store.SaveCheckpoint(workerID, taskID, state, elapsedMS, leaseDuration, time.Now())
	if err != nil {
		if taskdb.IsReject(err) {
			c.log.Warn("checkpoint rejected", "id", taskID, "worker", workerID, "reason", err)
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("coordinator: save checkpoint: %w", err)
	}
	c.log.Debug("checkpoint saved", "id", taskID, "worker", workerID, "lease_expires_at", lease)
	c.invalidate(taskID)
	return lease, nil
}

// Heartbeat implements spec §4.5.
func (c *Coordinator) Heartbeat(workerID string) error {
	if err := c.store.Heartbeat(workerID, time.Now()); err != nil {
		return fmt.Errorf("coordinator: heartbeat: %w", err)
	}
	return nil
}

func (c *Coordinator) invalidate(taskID uint64) {
	c.readCache.Remove(taskID)
}
