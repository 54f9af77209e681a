package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebook_holds_created_total",
		Help: "Holds successfully created.",
	})

	HoldConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebook_hold_conflicts_total",
		Help: "Hold attempts that lost the race for a unit.",
	})

	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebook_holds_expired_total",
		Help: "Holds released by the expiry sweep.",
	})

	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebook_finalizations_total",
		Help: "Finalizer runs by outcome.",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebook_webhook_events_total",
		Help: "Provider webhook deliveries by result.",
	}, []string{"result"})

	Refunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebook_refunds_total",
		Help: "Refunds issued, including automatic refunds after hold expiry.",
	})
)
