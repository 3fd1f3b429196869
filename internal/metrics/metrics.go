// Package metrics exports evaluation, award and rebuild counters to
// Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"userachievements/internal/achievements"
	"userachievements/internal/rebuild"
)

const namespace = "userachievements"

// Metrics observes achievements and rebuilds.
type Metrics struct {
	evaluations     *prometheus.CounterVec
	awards          *prometheus.CounterVec
	rebuildUsers    *prometheus.CounterVec
	rebuildFailures *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Achievement evaluations of eligible users.",
		}, []string{"achievement"}),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awards_total",
			Help:      "Badges awarded for the first time.",
		}, []string{"achievement", "level"}),
		rebuildUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_users_total",
			Help:      "Users re-evaluated by rebuilds.",
		}, []string{"achievement"}),
		rebuildFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_failures_total",
			Help:      "Users whose evaluation failed during a rebuild.",
		}, []string{"achievement"}),
		rebuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Wall time of one achievement rebuild.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"achievement"}),
	}
	reg.MustRegister(m.evaluations, m.awards, m.rebuildUsers, m.rebuildFailures, m.rebuildDuration)
	return m
}

func (m *Metrics) Evaluated(achievementID string) {
	m.evaluations.WithLabelValues(achievementID).Inc()
}

func (m *Metrics) Awarded(a achievements.Award) {
	m.awards.WithLabelValues(a.AchievementID, strconv.Itoa(a.Level)).Inc()
}

func (m *Metrics) RebuildFinished(r rebuild.AchievementResult) {
	m.rebuildUsers.WithLabelValues(r.AchievementID).Add(float64(r.Users))
	m.rebuildFailures.WithLabelValues(r.AchievementID).Add(float64(len(r.Failures)))
	m.rebuildDuration.WithLabelValues(r.AchievementID).Observe(r.Duration.Seconds())
}
