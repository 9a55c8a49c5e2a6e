package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/worker/cache"
)

func TestPutListDelete(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(dir)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(cache.Entry{TaskID: 1, WorkerID: "w1", Outcome: taskdb.OutcomeSuccess, Blob: []byte("168"), CreatedAt: time.Now()}))
	require.NoError(t, c.Put(cache.Entry{TaskID: 2, WorkerID: "w1", Outcome: taskdb.OutcomeFailed, CreatedAt: time.Now()}))

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, c.Delete(1))
	entries, err = c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(2), entries[0].TaskID)
}

func TestOpenRefusesSecondOwner(t *testing.T) {
	dir := t.TempDir()
	c1, err := cache.Open(dir)
	require.NoError(t, err)
	defer c1.Close()

	_, err = cache.Open(dir)
	require.Error(t, err, "a second worker process must not share a cache directory")
}

func TestCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	c1, err := cache.Open(dir)
	require.NoError(t, err)
	require.NoError(t, c1.Put(cache.Entry{TaskID: 5, WorkerID: "w1", Outcome: taskdb.OutcomeSuccess, Blob: []byte("x"), CreatedAt: time.Now()}))
	require.NoError(t, c1.Close())

	c2, err := cache.Open(dir)
	require.NoError(t, err)
	defer c2.Close()

	entries, err := c2.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(5), entries[0].TaskID)
}
