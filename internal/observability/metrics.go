package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the raffle backend.
type Metrics struct {
	// FinalizeRuns counts orchestrator outcomes, labeled submitted /
	// cancelled / skipped.
	FinalizeRuns *prometheus.CounterVec

	// FinalizeDuration observes wall time of one finalization run.
	FinalizeDuration prometheus.Histogram

	// SubmittedTickets observes the multiset size per submitted contest.
	SubmittedTickets prometheus.Histogram

	// BonusesGranted counts bonus entries by kind: holder, reply, share,
	// volume.
	BonusesGranted *prometheus.CounterVec

	// AnnouncePosts counts announcement attempts, labeled posted / skipped /
	// failed.
	AnnouncePosts *prometheus.CounterVec

	// SweepContests counts contests visited by scheduled sweeps, labeled by
	// sweep kind.
	SweepContests *prometheus.CounterVec

	// RPCRetries counts transient-error retries in the chain client.
	RPCRetries prometheus.Counter
}

// NewMetrics registers all collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FinalizeRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "finalize_runs_total",
			Help:      "Finalization attempts by outcome.",
		}, []string{"outcome"}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raffle",
			Name:      "finalize_duration_seconds",
			Help:      "Wall time of one finalization run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SubmittedTickets: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raffle",
			Name:      "submitted_tickets",
			Help:      "Multiset size per submitted contest.",
			Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		}),
		BonusesGranted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "bonuses_granted_total",
			Help:      "Bonus entries granted by kind.",
		}, []string{"kind"}),
		AnnouncePosts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "announce_posts_total",
			Help:      "Announcement attempts by result.",
		}, []string{"result"}),
		SweepContests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "sweep_contests_total",
			Help:      "Contests visited by scheduled sweeps.",
		}, []string{"sweep"}),
		RPCRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "rpc_retries_total",
			Help:      "Transient-error retries in the chain client.",
		}),
	}
}

// ObserveOutcome records one finalization outcome with its snapshot-derived
// counts.
func (m *Metrics) ObserveOutcome(outcome string, durationSeconds float64, tickets int, holder, reply, share, volume int) {
	m.FinalizeRuns.WithLabelValues(outcome).Inc()
	m.FinalizeDuration.Observe(durationSeconds)
	if tickets > 0 {
		m.SubmittedTickets.Observe(float64(tickets))
	}
	m.BonusesGranted.WithLabelValues("holder").Add(float64(holder))
	m.BonusesGranted.WithLabelValues("reply").Add(float64(reply))
	m.BonusesGranted.WithLabelValues("share").Add(float64(share))
	m.BonusesGranted.WithLabelValues("volume").Add(float64(volume))
}
