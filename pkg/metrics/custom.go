package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TradeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gopherdex",
			Name:      "trade_events_total",
			Help:      "Total number of trade events ingested.",
		},
		[]string{"network", "kind"}, // kind: trade/reversion
	)

	RevertsMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gopherdex",
			Name:      "reverts_matched_total",
			Help:      "Total number of reverts matched to trades.",
		},
		[]string{"network"},
	)

	PersistFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gopherdex",
			Name:      "persist_failures_total",
			Help:      "Total number of trade state persistence failures.",
		},
		[]string{"network", "op"}, // op: save/load
	)

	PendingTrades = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gopherdex",
			Name:      "pending_trades",
			Help:      "Number of trades still inside the revert window.",
		},
		[]string{"network", "account"},
	)

	PollCycleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gopherdex",
			Name:      "poll_cycle_seconds",
			Help:      "Duration of one event poll cycle.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"network"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		TradeEventsTotal,
		RevertsMatchedTotal,
		PersistFailuresTotal,
		PendingTrades,
		PollCycleSeconds,
	)
}
