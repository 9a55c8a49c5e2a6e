// Package metrics wraps rcrowley/go-metrics the way go-ethereum's metrics
// package does: one process-wide Registry, counters/timers/gauges
// registered against it by name, and a Prometheus collector
// (metrics/prometheus.go) that bridges the registry onto a
// client_golang /metrics endpoint.
package metrics

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Registry holds every counter/gauge/timer the coordinator reports. A
// process constructs exactly one.
type Registry struct {
	r gometrics.Registry

	TasksSubmitted gometrics.Counter
	TasksClaimed   gometrics.Counter
	TasksCompleted gometrics.Counter
	TasksFailed    gometrics.Counter
	TasksReclaimed gometrics.Counter
	WorkersAlive   gometrics.Gauge
	WorkersDead    gometrics.Gauge
	ClaimLatency   gometrics.Timer
	MonitorTick    gometrics.Timer
}

// New constructs and registers the full metric set.
func New() *Registry {
	r := gometrics.NewRegistry()
	reg := &Registry{
		r:              r,
		TasksSubmitted: gometrics.NewRegisteredCounter("tasks.submitted", r),
		TasksClaimed:   gometrics.NewRegisteredCounter("tasks.claimed", r),
		TasksCompleted: gometrics.NewRegisteredCounter("tasks.completed", r),
		TasksFailed:    gometrics.NewRegisteredCounter("tasks.failed", r),
		TasksReclaimed: gometrics.NewRegisteredCounter("tasks.reclaimed", r),
		WorkersAlive:   gometrics.NewRegisteredGauge("workers.alive", r),
		WorkersDead:    gometrics.NewRegisteredGauge("workers.dead", r),
		ClaimLatency:   gometrics.NewRegisteredTimer("claim.latency", r),
		MonitorTick:    gometrics.NewRegisteredTimer("monitor.tick", r),
	}
	return reg
}

// GoMetricsRegistry exposes the underlying go-metrics registry for the Prometheus
// bridge in prometheus.go.
func (reg *Registry) GoMetricsRegistry() gometrics.Registry { return reg.r }

// TimeClaim is a small helper for `defer reg.TimeClaim()()`-style timing.
func (reg *Registry) TimeClaim() func() {
	start := time.Now()
	return func() { reg.ClaimLatency.Update(time.Since(start)) }
}
