package reorg

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/types"
)

const (
	reasonHeadUnavailable = "head_unavailable"
	reasonPinnedAgrees    = "pinned_agrees"
	reasonNotConfirmed    = "not_confirmed"
	reasonProbeFailed     = "probe_failed"
)

var (
	reorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_reorgs_detected_total",
			Help: "Total number of blockchain reorganizations detected",
		},
		[]string{"stream"},
	)

	reorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "untron_indexer_reorg_depth_blocks",
			Help:    "Depth of blockchain reorganizations in stored blocks",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 256},
		},
		[]string{"stream"},
	)

	reorgLastDetected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_reorg_last_detected_timestamp",
			Help: "Unix timestamp of last reorg detection",
		},
		[]string{"stream"},
	)

	reorgFromBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_reorg_last_from_block",
			Help: "First invalidated block of the last detected reorg",
		},
		[]string{"stream"},
	)

	reorgInconclusive = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_reorg_checks_inconclusive_total",
			Help: "Reorg checks that ended without a verdict",
		},
		[]string{"stream", "reason"},
	)
)

func ReorgDetectedLog(stream types.Stream, depth, fromBlock uint64) {
	s := string(stream)
	reorgsDetected.WithLabelValues(s).Inc()
	reorgDepth.WithLabelValues(s).Observe(float64(depth))
	reorgLastDetected.WithLabelValues(s).Set(float64(time.Now().UTC().Unix()))
	reorgFromBlock.WithLabelValues(s).Set(float64(fromBlock))
}

func ReorgInconclusiveInc(stream types.Stream, reason string) {
	reorgInconclusive.WithLabelValues(string(stream), reason).Inc()
}
