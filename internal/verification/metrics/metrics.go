package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the verification engine.
type Metrics struct {
	MovementsScored   prometheus.Counter
	TrustScores       prometheus.Histogram
	DevicesActivated  prometheus.Counter
	DevicesFrozen     prometheus.Counter
	CheckinVerdicts   *prometheus.CounterVec
	ChallengesSent    prometheus.Counter
	ChallengesExpired prometheus.Counter
	ScoreFlagsRaised  *prometheus.CounterVec
}

// New creates and registers all verification metrics.
func New() *Metrics {
	return &Metrics{
		MovementsScored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_movements_scored_total",
			Help: "Total number of movement reports run through the correlation scorer",
		}),
		TrustScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vicinity_trust_score",
			Help:    "Distribution of computed daily trust scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		DevicesActivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_devices_activated_total",
			Help: "Total number of devices that passed the activation gate",
		}),
		DevicesFrozen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_devices_frozen_total",
			Help: "Total number of devices frozen on a spoofing signal",
		}),
		CheckinVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vicinity_checkin_verdicts_total",
			Help: "Touch-gesture classifier verdicts on submitted check-ins",
		}, []string{"verdict"}),
		ChallengesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_challenges_sent_total",
			Help: "Total number of liveness challenges dispatched by the sweep",
		}),
		ChallengesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vicinity_challenges_expired_total",
			Help: "Total number of liveness challenges expired unanswered",
		}),
		ScoreFlagsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vicinity_score_flags_total",
			Help: "Correlation flags raised per type",
		}, []string{"flag"}),
	}
}

// ObserveScore records one scored movement report.
func (m *Metrics) ObserveScore(score float64) {
	m.MovementsScored.Inc()
	m.TrustScores.Observe(score)
}

// IncrementVerdict records one classifier verdict.
func (m *Metrics) IncrementVerdict(isHuman bool) {
	verdict := "bot"
	if isHuman {
		verdict = "human"
	}
	m.CheckinVerdicts.WithLabelValues(verdict).Inc()
}

// IncrementFlag records one raised correlation flag.
func (m *Metrics) IncrementFlag(flag string) {
	m.ScoreFlagsRaised.WithLabelValues(flag).Inc()
}
