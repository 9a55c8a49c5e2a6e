package coordinator_test

import (
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/taskdb"
)

// TestSubmitTaskAcceptsArbitraryPayloads fuzzes payload bytes the way
// go-ethereum's abi/snap fuzz tests fuzz wire-format inputs: the core never
// interprets task_type or payload (spec §1), so any byte sequence the
// worker hands it must round-trip through Submit/Claim/SubmitResult
// without the coordinator itself choking on it.
func TestSubmitTaskAcceptsArbitraryPayloads(t *testing.T) {
	c := newCoordinator()
	f := fuzz.New().NilChance(0.2).NumElements(0, 256)

	for i := 0; i < 50; i++ {
		var payload []byte
		var taskType string
		f.Fuzz(&payload)
		f.Fuzz(&taskType)
		if taskType == "" {
			taskType = "fuzzed"
		}

		id, err := c.SubmitTask(taskType, payload)
		require.NoError(t, err)

		got, err := c.GetTask(id)
		require.NoError(t, err)
		require.Equal(t, payload, got.Payload)
		require.Equal(t, taskType, got.Type)

		res, err := c.ClaimTask("fuzz-worker", time.Minute)
		require.NoError(t, err)
		require.True(t, res.Found)
		require.NoError(t, c.SubmitResult("fuzz-worker", res.Task.ID, taskdb.OutcomeFailed, payload))
	}
}
