package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rpc_requests_total",
			Help: "Total number of RPC requests by endpoint and method",
		},
		[]string{"endpoint", "method"},
	)

	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rpc_errors_total",
			Help: "Total number of RPC errors by endpoint, method and type",
		},
		[]string{"endpoint", "method", "error_type"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "untron_indexer_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	rpcRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rpc_rate_limited_total",
			Help: "Total number of throttled RPC responses that were retried",
		},
		[]string{"endpoint", "method"},
	)

	rpcFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_rpc_failovers_total",
			Help: "Total number of times the pool moved past a failing endpoint",
		},
		[]string{"endpoint", "method"},
	)
)

func RPCMethodInc(endpoint, method string) {
	RPCRequests.WithLabelValues(endpoint, method).Inc()
}

func RPCMethodDuration(method string, duration time.Duration) {
	RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RPCMethodError(endpoint, method, errorType string) {
	RPCErrors.WithLabelValues(endpoint, method, errorType).Inc()
}

func RPCRateLimitedInc(endpoint, method string) {
	rpcRateLimited.WithLabelValues(endpoint, method).Inc()
}

func RPCFailoverInc(endpoint, method string) {
	rpcFailovers.WithLabelValues(endpoint, method).Inc()
}

func errorType(err error) string {
	switch {
	case IsRateLimitError(err):
		return "rate_limit"
	case IsRangeTooLargeError(err):
		return "range_too_large"
	case IsTransientError(err):
		return "transient"
	default:
		return "other"
	}
}
