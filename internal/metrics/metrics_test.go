package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/metrics"
)

func TestCollectorEmitsRegisteredCounters(t *testing.T) {
	reg := metrics.New()
	reg.TasksSubmitted.Inc(3)
	reg.WorkersAlive.Update(2)

	col := metrics.NewCollector(reg)
	ch := make(chan prometheus.Metric, 32)
	col.Collect(ch)
	close(ch)

	var sawCounter, sawGauge bool
	for m := range ch {
		var dtoM dto.Metric
		require.NoError(t, m.Write(&dtoM))
		if dtoM.Counter != nil {
			sawCounter = true
		}
		if dtoM.Gauge != nil {
			sawGauge = true
		}
	}
	require.True(t, sawCounter)
	require.True(t, sawGauge)
}
