package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "untron_indexer_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	TaskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "untron_indexer_task_failures_total",
			Help: "Supervised tasks that returned an error",
		},
		[]string{"task"},
	)

	TaskRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_task_running",
			Help: "Supervised task status (1=running, 0=stopped)",
		},
		[]string{"task"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "untron_indexer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "untron_indexer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func TaskFailureInc(task string) {
	TaskFailures.WithLabelValues(task).Inc()
}

func TaskRunningSet(task string, running bool) {
	boolAsFloat := float64(1)
	if !running {
		boolAsFloat = 0
	}

	TaskRunning.WithLabelValues(task).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
