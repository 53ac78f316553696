package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_store_mutations_total",
		Help: "Committed store mutations by operation.",
	}, []string{"op"})

	hookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_hook_failures_total",
		Help: "Hook invocations that returned an error, by dispatch point.",
	}, []string{"point"})

	notificationsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxd_notifications_pruned_total",
		Help: "Notifications removed by the per-user retention cap.",
	})
)
