package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookhive_notifications_sent_total",
		Help: "Notifications delivered to the transport, by category.",
	}, []string{"category"})

	retryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookhive_notification_retries_total",
		Help: "Transport send attempts that failed and were retried.",
	})

	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookhive_notifications_abandoned_total",
		Help: "Jobs dropped after exhausting retries.",
	})

	unlinkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookhive_notifications_unlinked_total",
		Help: "Jobs completed without delivery because the member has no chat account.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookhive_notification_queue_depth",
		Help: "Jobs waiting in the dispatch queue.",
	})
)
