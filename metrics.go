package transit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queriesTotal counts planner queries by outcome
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_queries_total",
		Help: "Total journey planning queries by query type, algorithm and result",
	}, []string{"query", "algorithm", "result"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transit_query_duration_seconds",
		Help:    "Journey planning query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"query", "algorithm"})

	feedLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_feed_loads_total",
		Help: "Total feed loads by source of the timetable",
	}, []string{"source"}) // "cache", "storage" or "parsed"
)

func observe(query string, algo Algorithm, result string) {
	queriesTotal.WithLabelValues(query, string(algo), result).Inc()
}

// Starts timing a query. Call the returned func when done.
func timer(query string, algo Algorithm) func() {
	t := prometheus.NewTimer(queryDuration.WithLabelValues(query, string(algo)))
	return func() { t.ObserveDuration() }
}
