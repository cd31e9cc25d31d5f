package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the decision engine.
type Metrics struct {
	// Decision metrics
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	EvaluationFailures prometheus.Counter

	// Score distributions
	TrustScore prometheus.Histogram
	RiskScore  prometheus.Histogram

	// Policy metrics
	PolicyEvaluations *prometheus.CounterVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsRevoked *prometheus.CounterVec

	// Segment metrics
	SegmentChecks         *prometheus.CounterVec
	LateralMovementAlerts *prometheus.CounterVec

	// Behavior metrics
	AnomaliesDetected *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_decisions_total",
				Help: "Total access decisions rendered, by verdict",
			},
			[]string{"verdict"},
		),
		EvaluationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessd_evaluation_duration_seconds",
				Help:    "End-to-end duration of one access evaluation",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		EvaluationFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "accessd_evaluation_failures_total",
				Help: "Internal evaluation failures converted to fail-closed denies",
			},
		),
		TrustScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessd_trust_score",
				Help:    "Composite trust score distribution",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		RiskScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accessd_risk_score",
				Help:    "Risk score distribution",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		PolicyEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_policy_evaluations_total",
				Help: "Policy evaluations, by mode and outcome",
			},
			[]string{"mode", "outcome"}, // outcome: passed, failed, blocking
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessd_active_sessions",
				Help: "Sessions currently tracked by the continuous auth monitor",
			},
		),
		SessionsRevoked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_sessions_revoked_total",
				Help: "Sessions invalidated, by reason",
			},
			[]string{"reason"}, // idle_timeout, session_expired, revoked
		),
		SegmentChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_segment_checks_total",
				Help: "Segment connection checks, by result",
			},
			[]string{"result"}, // allowed, denied
		),
		LateralMovementAlerts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_lateral_movement_alerts_total",
				Help: "Lateral movement detections, by severity",
			},
			[]string{"severity"},
		),
		AnomaliesDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessd_anomalies_detected_total",
				Help: "Behavioral anomalies detected, by type",
			},
			[]string{"type"},
		),
	}
}
