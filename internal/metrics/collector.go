package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats exposes the note generator's in-flight count.
type PipelineStats interface {
	ActiveGenerations() int
}

// CacheStats exposes the metadata cache's L1 size.
type CacheStats interface {
	Entries() int
}

// Collector reads live gauges at scrape time. Any source may be nil; its
// gauges then report 0.
type Collector struct {
	pool  *pgxpool.Pool
	stats PipelineStats
	cache CacheStats

	activeGenerations *prometheus.Desc
	cacheEntries      *prometheus.Desc
	dbConns           *prometheus.Desc
}

func NewCollector(pool *pgxpool.Pool, stats PipelineStats, cache CacheStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		cache: cache,
		activeGenerations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_generations"),
			"Note generations currently in flight.",
			nil, nil,
		),
		cacheEntries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "metadata_cache", "entries"),
			"Entries held in the in-memory metadata cache.",
			nil, nil,
		),
		dbConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "conns"),
			"Database pool connections by state.",
			[]string{"state"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeGenerations
	ch <- c.cacheEntries
	ch <- c.dbConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var active, entries int
	if c.stats != nil {
		active = c.stats.ActiveGenerations()
	}
	if c.cache != nil {
		entries = c.cache.Entries()
	}
	ch <- prometheus.MustNewConstMetric(c.activeGenerations, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(entries))

	var total, acquired, idle int32
	if c.pool != nil {
		stat := c.pool.Stat()
		total, acquired, idle = stat.TotalConns(), stat.AcquiredConns(), stat.IdleConns()
	}
	ch <- prometheus.MustNewConstMetric(c.dbConns, prometheus.GaugeValue, float64(total), "total")
	ch <- prometheus.MustNewConstMetric(c.dbConns, prometheus.GaugeValue, float64(acquired), "acquired")
	ch <- prometheus.MustNewConstMetric(c.dbConns, prometheus.GaugeValue, float64(idle), "idle")
}
