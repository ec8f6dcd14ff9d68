package ccache

// metrics.go generalizes the teacher's pkg/metrics.go shard-level
// metricsSink: ccachego has no shard dimension at the façade layer (the
// local store shards internally), so labels collapse to a single
// "namespace" dimension instead of "shard".

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts Prometheus away so the hot path does not pay for
// metric updates when no registry is configured.
type metricsSink interface {
	incCacheHit(namespace string)
	incCacheMiss(namespace string)
	incRemoteWriteError(namespace string)
	observeLocalStoreBytes(bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) incCacheHit(string)           {}
func (noopMetrics) incCacheMiss(string)          {}
func (noopMetrics) incRemoteWriteError(string)   {}
func (noopMetrics) observeLocalStoreBytes(int64) {}

type promMetrics struct {
	hits             *prometheus.CounterVec
	misses           *prometheus.CounterVec
	remoteWriteError *prometheus.CounterVec
	localStoreBytes  prometheus.Gauge
}

// NewPromMetrics registers ccachego's metrics on reg and returns a sink
// that updates them.
func NewPromMetrics(reg prometheus.Registerer) metricsSink {
	m := &promMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccachego_cache_hits_total",
			Help: "Number of cache hits, by namespace.",
		}, []string{"namespace"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccachego_cache_misses_total",
			Help: "Number of cache misses, by namespace.",
		}, []string{"namespace"}),
		remoteWriteError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccachego_remote_write_errors_total",
			Help: "Number of failed background remote-storage writes, by namespace.",
		}, []string{"namespace"}),
		localStoreBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccachego_local_store_bytes",
			Help: "Current tracked size of the local store.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.remoteWriteError, m.localStoreBytes)
	return m
}

func (m *promMetrics) incCacheHit(ns string)         { m.hits.WithLabelValues(ns).Inc() }
func (m *promMetrics) incCacheMiss(ns string)        { m.misses.WithLabelValues(ns).Inc() }
func (m *promMetrics) incRemoteWriteError(ns string) { m.remoteWriteError.WithLabelValues(ns).Inc() }
func (m *promMetrics) observeLocalStoreBytes(b int64) { m.localStoreBytes.Set(float64(b)) }
