package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

var (
	nextBlockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_next_block",
			Help: "Next block the stream will index",
		},
		[]string{"stream"},
	)

	headGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_head",
			Help: "Latest head block reported by the fallback provider",
		},
		[]string{"stream"},
	)

	backlogGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_backlog_blocks",
			Help: "Blocks between the next block and the safe head, inclusive",
		},
		[]string{"stream"},
	)

	chunkGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_chunk_blocks",
			Help: "Current getLogs window size",
		},
		[]string{"stream"},
	)

	rangesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_ranges_committed_total",
			Help: "Block ranges committed",
		},
		[]string{"stream"},
	)

	rangesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_ranges_failed_total",
			Help: "Block range attempts that failed, by recovery action",
		},
		[]string{"stream", "action"},
	)

	rowsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rows_decoded_total",
			Help: "Event and tip proof rows produced by committed ranges",
		},
		[]string{"stream", "kind"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "untron_indexer_range_phase_duration_seconds",
			Help:    "Latency of each phase of a committed range",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream", "phase"},
	)
)

func RangeCommittedLog(stream types.Stream, m RangeMetrics) {
	s := string(stream)
	rangesCommitted.WithLabelValues(s).Inc()
	rowsDecoded.WithLabelValues(s, "event").Add(float64(m.Events))
	rowsDecoded.WithLabelValues(s, "proof").Add(float64(m.Proofs))
	phaseDuration.WithLabelValues(s, "fetch").Observe(m.Fetch.Seconds())
	phaseDuration.WithLabelValues(s, "timestamps").Observe(m.Timestamps.Seconds())
	phaseDuration.WithLabelValues(s, "decode").Observe(m.Decode.Seconds())
	phaseDuration.WithLabelValues(s, "persist").Observe(m.Persist.Seconds())
}

func RangeFailedInc(stream types.Stream, a action) {
	rangesFailed.WithLabelValues(string(stream), a.String()).Inc()
}

func ProgressSet(stream types.Stream, head, nextBlock, backlog, chunk uint64) {
	s := string(stream)
	headGauge.WithLabelValues(s).Set(float64(head))
	nextBlockGauge.WithLabelValues(s).Set(float64(nextBlock))
	backlogGauge.WithLabelValues(s).Set(float64(backlog))
	chunkGauge.WithLabelValues(s).Set(float64(chunk))
}
