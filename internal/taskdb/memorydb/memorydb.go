// Package memorydb is an in-process implementation of taskdb.Store backed
// by plain maps guarded by a single mutex. It stands in for boltstore in
// unit and property tests the way ethdb/memorydb stands in for
// ethdb/leveldb in the teacher: same contract, no disk I/O, and — because
// every operation takes the same mutex for its whole duration — the same
// single-writer serializability boltstore gets from a bbolt transaction.
package memorydb

import (
	"sort"
	"sync"
	"time"

	"github.com/distqueue/distqueue/internal/taskdb"
)

type Store struct {
	mu          sync.Mutex
	nextID      uint64
	tasks       map[uint64]taskdb.Task
	results     map[uint64]taskdb.Result
	checkpoints map[uint64][]taskdb.Checkpoint
	workers     map[string]taskdb.Worker
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:       make(map[uint64]taskdb.Task),
		results:     make(map[uint64]taskdb.Result),
		checkpoints: make(map[uint64][]taskdb.Checkpoint),
		workers:     make(map[string]taskdb.Worker),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) SubmitTask(taskType string, payload []byte, now time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.tasks[id] = taskdb.Task{
		ID:        id,
		Type:      taskType,
		Payload:   payload,
		Status:    taskdb.StatusPending,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (s *Store) GetTask(id uint64) (taskdb.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return taskdb.Task{}, taskdb.ErrNotFound
	}
	return t, nil
}

func (s *Store) Claim(workerID string, leaseDuration time.Duration, now time.Time) (taskdb.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchWorkerLocked(workerID, now)

	var (
		bestID    uint64
		found     bool
	)
	for id, t := range s.tasks {
		if t.Status != taskdb.StatusPending {
			continue
		}
		if !found || id < bestID {
			bestID = id
			found = true
		}
	}
	if !found {
		return taskdb.ClaimResult{}, nil
	}

	t := s.tasks[bestID]
	lease := now.Add(leaseDuration)
	t.Status = taskdb.StatusInProgress
	t.AssignedWorker = workerID
	t.LeaseExpiresAt = &lease
	t.Attempts++
	t.UpdatedAt = now
	s.tasks[bestID] = t

	result := taskdb.ClaimResult{Task: t, Found: true}
	if cps := s.checkpoints[bestID]; len(cps) > 0 {
		latest := latestCheckpoint(cps)
		result.Checkpoint = &latest
	}
	return result, nil
}

func (s *Store) SubmitResult(workerID string, taskID uint64, outcome taskdb.Outcome, blob []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return taskdb.ErrNotFound
	}
	if err := checkOwnership(t, workerID, now); err != nil {
		return err
	}

	status := taskdb.StatusCompleted
	if outcome == taskdb.OutcomeFailed {
		status = taskdb.StatusFailed
	}
	t.Status = status
	t.AssignedWorker = ""
	t.LeaseExpiresAt = nil
	t.UpdatedAt = now
	s.tasks[taskID] = t

	s.results[taskID] = taskdb.Result{
		TaskID: taskID,
		Worker: workerID,
		Status: outcome,
		Blob:   blob,
		At:     now,
	}
	delete(s.checkpoints, taskID)
	return nil
}

func (s *Store) SaveCheckpoint(workerID string, taskID uint64, state []byte, elapsedMS int64, leaseDuration time.Duration, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return time.Time{}, taskdb.ErrNotFound
	}
	if err := checkOwnership(t, workerID, now); err != nil {
		return time.Time{}, err
	}

	var nextSeq uint64 = 1
	if cps := s.checkpoints[taskID]; len(cps) > 0 {
		nextSeq = latestCheckpoint(cps).Seq + 1
	}
	s.checkpoints[taskID] = append(s.checkpoints[taskID], taskdb.Checkpoint{
		TaskID:    taskID,
		Seq:       nextSeq,
		State:     state,
		ElapsedMS: elapsedMS,
		At:        now,
	})

	lease := now.Add(leaseDuration)
	t.LeaseExpiresAt = &lease
	t.UpdatedAt = now
	s.tasks[taskID] = t
	return lease, nil
}

func (s *Store) Heartbeat(workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchWorkerLocked(workerID, now)
	return nil
}

func (s *Store) ReapAndReclaim(workerDeadAfter time.Duration, now time.Time) (taskdb.ReapReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report taskdb.ReapReport

	deadened := make(map[string]bool)
	for id, w := range s.workers {
		if w.Status == taskdb.WorkerAlive && now.Sub(w.LastHeartbeatAt) > workerDeadAfter {
			w.Status = taskdb.WorkerDead
			s.workers[id] = w
			report.WorkersReaped++
		}
		if s.workers[id].Status == taskdb.WorkerDead {
			deadened[id] = true
		}
	}

	for id, t := range s.tasks {
		if t.Status != taskdb.StatusInProgress {
			continue
		}
		expired := t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
		orphaned := deadened[t.AssignedWorker]
		if expired || orphaned {
			t.Status = taskdb.StatusPending
			t.AssignedWorker = ""
			t.LeaseExpiresAt = nil
			t.UpdatedAt = now
			s.tasks[id] = t
			report.TasksReclaimed++
		}
	}
	return report, nil
}

func (s *Store) Stats() (taskdb.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st taskdb.Stats
	for _, t := range s.tasks {
		switch t.Status {
		case taskdb.StatusPending:
			st.Pending++
		case taskdb.StatusInProgress:
			st.InProgress++
		case taskdb.StatusCompleted:
			st.Completed++
		case taskdb.StatusFailed:
			st.Failed++
		}
	}
	for _, w := range s.workers {
		if w.Status == taskdb.WorkerAlive {
			st.WorkersAlive++
		} else {
			st.WorkersDead++
		}
	}
	return st, nil
}

func (s *Store) touchWorkerLocked(workerID string, now time.Time) {
	s.workers[workerID] = taskdb.Worker{
		ID:              workerID,
		LastHeartbeatAt: now,
		Status:          taskdb.WorkerAlive,
	}
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

func latestCheckpoint(cps []taskdb.Checkpoint) taskdb.Checkpoint {
	sorted := append([]taskdb.Checkpoint(nil), cps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	return sorted[len(sorted)-1]
}
