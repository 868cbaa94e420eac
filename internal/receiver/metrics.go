package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receiversGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "untron_indexer_receivers",
			Help: "Size of the current receiver set",
		},
	)

	receiverNextBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_receiver_next_block",
			Help: "Next block the receiver indexer will scan, per token",
		},
		[]string{"token"},
	)

	transfersIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_receiver_transfers_total",
			Help: "Receiver transfers decoded from committed windows",
		},
		[]string{"token", "kind"},
	)

	windowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_receiver_windows_failed_total",
			Help: "Receiver windows that failed after retries",
		},
		[]string{"token", "kind"},
	)
)

func ReceiversSet(n int) {
	receiversGauge.Set(float64(n))
}

func ReceiverNextBlockSet(token string, block uint64) {
	receiverNextBlock.WithLabelValues(token).Set(float64(block))
}

func TransfersIndexedAdd(token, kind string, n int) {
	transfersIndexed.WithLabelValues(token, kind).Add(float64(n))
}

func WindowFailedInc(token, kind string) {
	windowsFailed.WithLabelValues(token, kind).Inc()
}
