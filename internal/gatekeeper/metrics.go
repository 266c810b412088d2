package gatekeeper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fangate_decisions_total",
		Help: "Submission decisions by status and reason.",
	}, []string{"status", "reason"})

	evaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fangate_evaluate_duration_seconds",
		Help:    "Time spent evaluating one submission.",
		Buckets: prometheus.DefBuckets,
	})

	riskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fangate_risk_score",
		Help:    "Distribution of content risk scores.",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	degradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fangate_degraded_total",
		Help: "Pipeline stages that failed open because a dependency was unavailable.",
	}, []string{"component"})
)

func recordDecision(d Decision, took time.Duration) {
	decisionsTotal.WithLabelValues(string(d.Status), d.Reason).Inc()
	evaluateDuration.Observe(took.Seconds())
}

func observeRisk(score int) {
	riskScore.Observe(float64(score))
}

func recordDegraded(component string) {
	degradedTotal.WithLabelValues(component).Inc()
}
