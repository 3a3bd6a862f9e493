package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caseledger"

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Payment webhook events by outcome.",
	}, []string{"outcome"})

	WebhookRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_retries_total",
		Help:      "Replays of recorded webhook failures by result.",
	}, []string{"result"})

	Withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdrawals_total",
		Help:      "Withdrawal state transitions.",
	}, []string{"status"})

	SettlementRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_runs_total",
		Help:      "Fee settlement runs by status.",
	}, []string{"status"})

	ProcessorCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processor_call_seconds",
		Help:      "Latency of payment processor API calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
