// Package risk computes the [0,100] request risk score with an additive
// model: each signal category contributes up to a configured cap, the sum is
// clamped. Pure function of its inputs.
package risk

import (
	"fmt"

	"github.com/ztx/accessd/internal/config"
	"github.com/ztx/accessd/internal/core"
)

// Signals are the raw inputs for one risk evaluation, gathered by the
// decision engine before scoring.
type Signals struct {
	FailedAuthAttempts  int
	ActiveAnomalies     []core.Anomaly
	PolicyViolations    []string
	Watchlisted         bool
	NewDevice           bool
	NewLocation         bool
	UnusualTime         bool
	ResourceSensitivity int // 1-5
}

// Scorer computes risk scores using the configured category caps.
type Scorer struct {
	cfg config.RiskConfig
}

// NewScorer creates a risk scorer.
func NewScorer(cfg config.RiskConfig) *Scorer {
	if cfg.FailedAuthCap == 0 {
		cfg.FailedAuthCap = 25
	}
	if cfg.ViolationCap == 0 {
		cfg.ViolationCap = 30
	}
	if cfg.AnomalyCap == 0 {
		cfg.AnomalyCap = 25
	}
	if cfg.NoveltyCap == 0 {
		cfg.NoveltyCap = 20
	}
	if cfg.PerFailedAuth == 0 {
		cfg.PerFailedAuth = 5
	}
	if cfg.PerViolation == 0 {
		cfg.PerViolation = 10
	}
	if cfg.WatchlistContribution == 0 {
		cfg.WatchlistContribution = 15
	}
	return &Scorer{cfg: cfg}
}

// Score evaluates the signals. The result never exceeds 100 or drops below 0
// regardless of input magnitude.
func (s *Scorer) Score(sig Signals) (float64, []core.RiskFactor) {
	factors := make([]core.RiskFactor, 0, 4)

	auth := capped(float64(sig.FailedAuthAttempts)*s.cfg.PerFailedAuth, s.cfg.FailedAuthCap)
	factors = append(factors, core.RiskFactor{
		Category:     "failed_auth",
		Contribution: auth,
		Cap:          s.cfg.FailedAuthCap,
		Detail:       fmt.Sprintf("%d failed attempts", sig.FailedAuthAttempts),
	})

	violations := capped(float64(len(sig.PolicyViolations))*s.cfg.PerViolation, s.cfg.ViolationCap)
	factors = append(factors, core.RiskFactor{
		Category:     "policy_violations",
		Contribution: violations,
		Cap:          s.cfg.ViolationCap,
		Detail:       fmt.Sprintf("%d violations", len(sig.PolicyViolations)),
	})

	var anomalyRaw float64
	for _, a := range sig.ActiveAnomalies {
		anomalyRaw += a.Severity.Weight()
	}
	if sig.Watchlisted {
		anomalyRaw += s.cfg.WatchlistContribution
	}
	anomalies := capped(anomalyRaw, s.cfg.AnomalyCap)
	factors = append(factors, core.RiskFactor{
		Category:     "active_anomalies",
		Contribution: anomalies,
		Cap:          s.cfg.AnomalyCap,
		Detail:       fmt.Sprintf("%d active anomalies (watchlisted=%v)", len(sig.ActiveAnomalies), sig.Watchlisted),
	})

	// Contextual novelty scales with resource sensitivity: the same new
	// location is riskier against a sensitive target.
	var noveltyRaw float64
	if sig.NewDevice {
		noveltyRaw += 8
	}
	if sig.NewLocation {
		noveltyRaw += 7
	}
	if sig.UnusualTime {
		noveltyRaw += 5
	}
	if sig.ResourceSensitivity > 3 {
		noveltyRaw *= 1 + 0.25*float64(sig.ResourceSensitivity-3)
	}
	novelty := capped(noveltyRaw, s.cfg.NoveltyCap)
	factors = append(factors, core.RiskFactor{
		Category:     "contextual_novelty",
		Contribution: novelty,
		Cap:          s.cfg.NoveltyCap,
		Detail: fmt.Sprintf("new_device=%v new_location=%v unusual_time=%v",
			sig.NewDevice, sig.NewLocation, sig.UnusualTime),
	})

	total := auth + violations + anomalies + novelty
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total, factors
}

func capped(v, cap float64) float64 {
	if v < 0 {
		return 0
	}
	if v > cap {
		return cap
	}
	return v
}
