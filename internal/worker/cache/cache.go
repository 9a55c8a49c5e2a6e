// Package cache is the worker's durable submission cache (spec §4.8): a
// directory of one JSON file per undelivered result, locked against
// concurrent worker processes with gofrs/flock, written with the
// atomic-rename pattern go-ethereum's accounts/keystore uses for key
// files, so a crash mid-write never leaves a half-written entry.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/distqueue/distqueue/internal/taskdb"
)

// Entry is one undelivered result awaiting redelivery to the coordinator.
type Entry struct {
	TaskID    uint64         `json:"task_id"`
	WorkerID  string         `json:"worker_id"`
	Outcome   taskdb.Outcome `json:"outcome"`
	Blob      []byte         `json:"result_blob"`
	CreatedAt time.Time      `json:"created_at"`
}

// Cache owns a directory of cached Entries for exactly one worker process.
type Cache struct {
	dir  string
	lock *flock.Flock
}

// Open locks dir for exclusive use by this process and creates it if
// missing. It returns an error if another worker process already holds
// the lock — two workers must never share a cache directory.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cache: lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("cache: directory %s is in use by another worker process", dir)
	}
	return &Cache{dir: dir, lock: lock}, nil
}

func (c *Cache) Close() error { return c.lock.Unlock() }

// Put durably appends an entry, overwriting any prior cached result for
// the same task_id.
func (c *Cache) Put(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry %d: %w", e.TaskID, err)
	}
	final := c.path(e.TaskID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("cache: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("cache: rename %s: %w", tmp, err)
	}
	return nil
}

// Delete removes a cached entry once it has been ACKed or REJECTed.
func (c *Cache) Delete(taskID uint64) error {
	if err := os.Remove(c.path(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: delete %d: %w", taskID, err)
	}
	return nil
}

// List loads every currently cached entry, for recovery-on-restart and
// the periodic retry sweep (spec §4.8).
func (c *Cache) List() ([]Entry, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: read dir %s: %w", c.dir, err)
	}
	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue // unreadable entry; skipped this sweep, retried on the next.
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Cache) path(taskID uint64) string {
	return filepath.Join(c.dir, strconv.FormatUint(taskID, 10)+".json")
}
