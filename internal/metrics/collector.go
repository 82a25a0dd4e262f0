package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceStats provides the metrics collector access to live service state.
type ServiceStats interface {
	QueueDepth() int
	ActiveJobs() int
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats ServiceStats

	// Descriptors for scrape-time gauges.
	queueDepth      *prometheus.Desc
	activeJobs      *prometheus.Desc
	sseSubscribers  *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if no worker pool is running.
func NewCollector(pool *pgxpool.Pool, stats ServiceStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "queue_depth"),
			"Jobs waiting in the worker queue.",
			nil, nil,
		),
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "active"),
			"Jobs currently being processed.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.activeJobs
	ch <- c.sseSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var queued, active, subs float64
	if c.stats != nil {
		queued = float64(c.stats.QueueDepth())
		active = float64(c.stats.ActiveJobs())
		subs = float64(c.stats.SSESubscriberCount())
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, queued)
	ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, active)
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, subs)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
