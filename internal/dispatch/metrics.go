package dispatch

import (
	"time"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campaigndispatcher"

var (
	dispatchQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_size",
			Help:      "Number of campaign queue items by status",
		},
		[]string{"status"},
	)

	dispatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "items_total",
			Help:      "Queue items processed by outcome",
		},
		[]string{"channel_type", "status"},
	)

	dispatchSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one queue item through a channel adapter",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel_type"},
	)

	dispatchTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "ticks_total",
			Help:      "Scheduler ticks that found due work",
		},
	)

	dispatchTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks that found due work",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	dispatchActivePools = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "active_pools",
			Help:      "Connections tracked by the in-process rate ledger",
		},
	)

	campaignsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "campaigns_completed_total",
			Help:      "Campaigns flipped to completed by the completion watcher",
		},
	)
)

func recordItem(channelType domain.ChannelType, status string) {
	if channelType == "" {
		channelType = "unknown"
	}
	dispatchItems.WithLabelValues(string(channelType), status).Inc()
}

func recordSendDuration(channelType domain.ChannelType, d time.Duration) {
	dispatchSendDuration.WithLabelValues(string(channelType)).Observe(d.Seconds())
}

func recordTick(d time.Duration) {
	dispatchTicks.Inc()
	dispatchTickDuration.Observe(d.Seconds())
}

func recordActivePools(n int) {
	dispatchActivePools.Set(float64(n))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(c domain.QueueCounts) {
	dispatchQueueSize.WithLabelValues("pending").Set(float64(c.Pending))
	dispatchQueueSize.WithLabelValues("processing").Set(float64(c.Processing))
	dispatchQueueSize.WithLabelValues("completed").Set(float64(c.Completed))
	dispatchQueueSize.WithLabelValues("failed").Set(float64(c.Failed))
	dispatchQueueSize.WithLabelValues("cancelled").Set(float64(c.Cancelled))
}
