package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_db_transactions_total",
			Help: "Total number of database transactions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	txDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "untron_indexer_db_transaction_duration_seconds",
			Help:    "Duration of committed database transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func TxOutcomeInc(operation, outcome string) {
	txOutcomes.WithLabelValues(operation, outcome).Inc()
}

func TxDurationLog(operation string, duration time.Duration) {
	txDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
