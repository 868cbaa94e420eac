package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

const (
	tableEvents    = "event_appended"
	tableTipProofs = "controller_tip_proofs"
	tableTransfers = "receiver_usdt_transfers"
)

var (
	rowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rows_written_total",
			Help: "Rows inserted or changed by upserts, per table",
		},
		[]string{"table"},
	)

	rowsInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rows_invalidated_total",
			Help: "Rows flipped to non-canonical by reorg invalidation",
		},
		[]string{"stream", "table"},
	)
)

func RowsWrittenAdd(table string, n int64) {
	rowsWritten.WithLabelValues(table).Add(float64(n))
}

func RowsInvalidatedAdd(stream types.Stream, events, proofs int64) {
	rowsInvalidated.WithLabelValues(string(stream), tableEvents).Add(float64(events))
	if proofs > 0 {
		rowsInvalidated.WithLabelValues(string(stream), tableTipProofs).Add(float64(proofs))
	}
}
