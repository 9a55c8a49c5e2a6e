package memorydb_test

import (
	"testing"

	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/taskdb/memorydb"
	"github.com/distqueue/distqueue/internal/taskdb/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformance(t, func(t *testing.T) taskdb.Store {
		return memorydb.New()
	})
}
