package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters for the order lifecycle. Labels are small closed sets.
var (
	// OrderDispatches counts dispatch passes by scope (order, group) and
	// outcome (committed, saved_by_engine, skipped_escort, failed).
	OrderDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_dispatches_total",
			Help: "Search dispatch passes by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	// OrderCancellations counts completed system cancellations by scope.
	OrderCancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_cancellations_total",
			Help: "Orders and groups cancelled by the system.",
		},
		[]string{"scope"},
	)

	// Notifications counts notification sends by event and result (sent, failed).
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification sends by event and result.",
		},
		[]string{"event", "result"},
	)
)

func init() {
	prometheus.MustRegister(OrderDispatches, OrderCancellations, Notifications)
}
