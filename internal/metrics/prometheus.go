package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
)

// collector bridges a go-metrics Registry onto Prometheus's Collector
// interface, mirroring go-ethereum's metrics/prometheus.Collector. Each
// metric is named "distqueue_" plus its go-metrics key with dots and dashes
// replaced by underscores; a Counter or Gauge becomes one Prometheus metric,
// a Timer becomes two (<name>_count and <name>_mean_ns).
type collector struct {
	reg *Registry
}

// NewCollector returns a prometheus.Collector exposing reg's metrics,
// for registration with a prometheus.Registry mounted at /metrics.
func NewCollector(reg *Registry) prometheus.Collector {
	return &collector{reg: reg}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: Prometheus's unchecked collector mode is used
	// instead of pre-declaring descs (same trade-off the teacher makes).
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.GoMetricsRegistry().Each(func(name string, i any) {
		metricName := "distqueue_" + sanitize(name)
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- mustConst(metricName, prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- mustConst(metricName, prometheus.GaugeValue, float64(m.Value()))
		case gometrics.Timer:
			ch <- mustConst(metricName+"_count", prometheus.CounterValue, float64(m.Count()))
			ch <- mustConst(metricName+"_mean_ns", prometheus.GaugeValue, m.Mean())
		}
	})
}

func mustConst(name string, vt prometheus.ValueType, v float64) prometheus.Metric {
	desc := prometheus.NewDesc(name, name, nil, nil)
	return prometheus.MustNewConstMetric(desc, vt, v)
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
