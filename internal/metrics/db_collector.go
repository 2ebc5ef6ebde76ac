package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStat is a snapshot of connection pool counters.
type DBPoolStat struct {
	Total             int32
	Idle              int32
	Acquired          int32
	Max               int32
	EmptyAcquireCount int64
}

// DBPoolStatFunc returns database pool statistics without importing pgxpool.
type DBPoolStatFunc func() DBPoolStat

type dbPoolCollector struct {
	statFunc DBPoolStatFunc

	totalDesc    *prometheus.Desc
	idleDesc     *prometheus.Desc
	acquiredDesc *prometheus.Desc
	maxDesc      *prometheus.Desc
	emptyDesc    *prometheus.Desc
}

// NewDBPoolCollector creates a collector that exposes pool gauges on scrape.
func NewDBPoolCollector(statFunc DBPoolStatFunc) prometheus.Collector {
	gauge := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("warden_db_pool_"+name, help, nil, nil)
	}
	return &dbPoolCollector{
		statFunc:     statFunc,
		totalDesc:    gauge("total_conns", "Total number of connections in the DB pool."),
		idleDesc:     gauge("idle_conns", "Number of idle connections in the DB pool."),
		acquiredDesc: gauge("acquired_conns", "Number of acquired connections in the DB pool."),
		maxDesc:      gauge("max_conns", "Configured maximum size of the DB pool."),
		emptyDesc: prometheus.NewDesc("warden_db_pool_empty_acquire_total",
			"Acquires that waited because the pool was empty.", nil, nil),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
	ch <- c.maxDesc
	ch <- c.emptyDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.emptyDesc, prometheus.CounterValue, float64(s.EmptyAcquireCount))
}
