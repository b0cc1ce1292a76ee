package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PollCycles       prometheus.Counter
	SkippedCycles    prometheus.Counter
	FetchFailures    *prometheus.CounterVec
	EventsFetched    *prometheus.CounterVec
	EventsSelected   *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	PurgedEntries    prometheus.Counter
	TrackedAccounts  prometheus.Gauge
}

// NewMetrics creates the relay metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "github_activity_relay_poll_cycles_total",
			Help: "Total number of completed polling cycles",
		}),
		SkippedCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "github_activity_relay_skipped_cycles_total",
			Help: "Total number of cycles skipped because one was still running",
		}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "github_activity_relay_fetch_failures_total",
			Help: "Total number of failed feed fetches",
		}, []string{"account"}),
		EventsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "github_activity_relay_events_fetched_total",
			Help: "Total number of events fetched from the feed",
		}, []string{"account"}),
		EventsSelected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "github_activity_relay_events_selected_total",
			Help: "Total number of events selected as new",
		}, []string{"account"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "github_activity_relay_event_outcomes_total",
			Help: "Total number of processed events by outcome",
		}, []string{"outcome"}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "github_activity_relay_delivery_failures_total",
			Help: "Total number of failed per-destination deliveries",
		}, []string{"platform"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "github_activity_relay_cycle_duration_seconds",
			Help:    "Time spent in one polling cycle",
			Buckets: prometheus.DefBuckets,
		}),
		PurgedEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "github_activity_relay_purged_entries_total",
			Help: "Total number of ledger entries removed by retention purges",
		}),
		TrackedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "github_activity_relay_tracked_accounts",
			Help: "Number of tracked accounts",
		}),
	}
}
