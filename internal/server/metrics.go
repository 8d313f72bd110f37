package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/user/tiktok-scheduler-go/internal/model"
)

// Metrics for Prometheus
var (
	schedulesByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiktok_scheduler_schedules",
		Help: "Number of schedules in each status",
	}, []string{"status"})

	publishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiktok_scheduler_publishes_total",
		Help: "Total number of finished publish attempts",
	}, []string{"status"})

	publishDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiktok_scheduler_publish_duration_seconds",
		Help:    "Duration of publish attempts in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	})

	dispatchSkipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiktok_scheduler_dispatch_skips_total",
		Help: "Due schedules not dispatched in a cycle",
	}, []string{"reason"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiktok_scheduler_errors_total",
		Help: "Total number of errors",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(schedulesByStatus)
	prometheus.MustRegister(publishesTotal)
	prometheus.MustRegister(publishDurationSeconds)
	prometheus.MustRegister(dispatchSkipsTotal)
	prometheus.MustRegister(errorsTotal)
}

// UpdateScheduleCounts sets the per-status schedule gauges
func UpdateScheduleCounts(counts map[model.ScheduleStatus]int64) {
	for status, n := range counts {
		schedulesByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// RecordPublish records a finished publish attempt
func RecordPublish(status model.ScheduleStatus, duration time.Duration) {
	publishesTotal.WithLabelValues(string(status)).Inc()
	publishDurationSeconds.Observe(duration.Seconds())
}

// RecordDispatchSkip records a due schedule that was not dispatched
func RecordDispatchSkip(reason string) {
	dispatchSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
