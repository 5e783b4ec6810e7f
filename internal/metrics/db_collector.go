package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time snapshot of the team store's connection pool.
// Counts of acquisitions are cumulative since the pool was opened.
type PoolStats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32

	Acquires         int64
	EmptyAcquires    int64 // acquisitions that had to wait for a connection
	CanceledAcquires int64
	AcquireDuration  time.Duration
}

// PoolStatFunc returns pool statistics without importing pgxpool.
type PoolStatFunc func() PoolStats

type poolCollector struct {
	stat PoolStatFunc

	conns            *prometheus.Desc
	maxConns         *prometheus.Desc
	acquires         *prometheus.Desc
	emptyAcquires    *prometheus.Desc
	canceledAcquires *prometheus.Desc
	acquireSeconds   *prometheus.Desc
}

// NewPoolCollector exposes pool occupancy as gauges and acquisition pressure
// as counters. Sustained growth of taskmate_db_pool_empty_acquires_total means
// store calls are queueing for connections.
func NewPoolCollector(stat PoolStatFunc) prometheus.Collector {
	return &poolCollector{
		stat: stat,
		conns: prometheus.NewDesc(
			"taskmate_db_pool_conns",
			"Connections in the team store pool by state.",
			[]string{"state"}, nil,
		),
		maxConns: prometheus.NewDesc(
			"taskmate_db_pool_max_conns",
			"Configured maximum size of the team store pool.",
			nil, nil,
		),
		acquires: prometheus.NewDesc(
			"taskmate_db_pool_acquires_total",
			"Successful connection acquisitions.",
			nil, nil,
		),
		emptyAcquires: prometheus.NewDesc(
			"taskmate_db_pool_empty_acquires_total",
			"Acquisitions that waited because no idle connection was available.",
			nil, nil,
		),
		canceledAcquires: prometheus.NewDesc(
			"taskmate_db_pool_canceled_acquires_total",
			"Acquisitions abandoned because their context ended.",
			nil, nil,
		),
		acquireSeconds: prometheus.NewDesc(
			"taskmate_db_pool_acquire_seconds_total",
			"Cumulative time spent acquiring connections.",
			nil, nil,
		),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.emptyAcquires
	ch <- c.canceledAcquires
	ch <- c.acquireSeconds
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.TotalConns), "total")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.IdleConns), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.AcquiredConns), "acquired")
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.Acquires))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(s.EmptyAcquires))
	ch <- prometheus.MustNewConstMetric(c.canceledAcquires, prometheus.CounterValue, float64(s.CanceledAcquires))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, s.AcquireDuration.Seconds())
}
