package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_processed_total",
		Help: "Webhook deliveries by outcome (applied, duplicate, ignored).",
	}, []string{"outcome"})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_signature_failures_total",
		Help: "Rejected webhook or checkout signatures.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_state_transitions_total",
		Help: "Committed state transitions by target status.",
	}, []string{"to"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_errors_total",
		Help: "Failed gateway calls by operation.",
	}, []string{"op"})
)
