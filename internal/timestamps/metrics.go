package timestamps

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "untron_indexer_timestamp_cache_hits_total",
			Help: "Blocks whose timestamp was already cached",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "untron_indexer_timestamp_cache_misses_total",
			Help: "Blocks whose header had to be fetched",
		},
	)
)

func cacheHitsInc() {
	cacheHits.Inc()
}

func cacheMissesAdd(n int) {
	cacheMisses.Add(float64(n))
}
