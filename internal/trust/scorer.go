// Package trust computes user, device, and composite trust scores from
// weighted factors. Scoring is a pure function of its inputs: identical
// identity/device state and the same evaluation time always produce the same
// score, so every verdict is reproducible for audit.
package trust

import (
	"time"

	"github.com/ztx/accessd/internal/config"
	"github.com/ztx/accessd/internal/core"
)

// Scorer computes [0,100] trust scores. Weights come from configuration.
type Scorer struct {
	cfg config.TrustConfig
}

// NewScorer creates a trust scorer with the given weight configuration.
// Unset weights take the same defaults config.Load fills in, so a
// zero-value config still produces meaningful scores.
func NewScorer(cfg config.TrustConfig) *Scorer {
	if cfg.UserWeight == 0 && cfg.DeviceWeight == 0 {
		cfg.UserWeight = 0.6
		cfg.DeviceWeight = 0.4
	}
	if cfg.NeutralScore == 0 {
		cfg.NeutralScore = 50
	}
	if cfg.Factors.IdentityStrength == 0 {
		cfg.Factors.IdentityStrength = 0.4
	}
	if cfg.Factors.Reverification == 0 {
		cfg.Factors.Reverification = 0.25
	}
	if cfg.Factors.Behavior == 0 {
		cfg.Factors.Behavior = 0.35
	}
	if cfg.Factors.Compliance == 0 {
		cfg.Factors.Compliance = 0.5
	}
	if cfg.Factors.PatchCurrency == 0 {
		cfg.Factors.PatchCurrency = 0.3
	}
	if cfg.Factors.NetworkBinding == 0 {
		cfg.Factors.NetworkBinding = 0.2
	}
	return &Scorer{cfg: cfg}
}

// authMethodStrength maps authentication methods to identity-strength scores.
var authMethodStrength = map[string]float64{
	"password":     40,
	"otp":          70,
	"mfa":          85,
	"hardware_key": 95,
}

// ScoreUser computes the identity trust score at evaluation time `at`.
// Missing or unavailable factors default to the configured neutral score so
// absence of data does not unfairly tank trust.
func (s *Scorer) ScoreUser(u *core.UserIdentity, at time.Time) (float64, []core.FactorScore) {
	w := s.cfg.Factors

	identity := core.FactorScore{Name: "identity_strength", Weight: w.IdentityStrength}
	if strength, ok := authMethodStrength[u.AuthMethod]; ok {
		identity.Value = strength
	} else {
		identity.Value = s.cfg.NeutralScore
		identity.Neutral = true
	}

	// Re-verification recency: full score within an hour, decaying to zero
	// over 24 hours. Never verified reads as neutral, not zero.
	reverify := core.FactorScore{Name: "reverification_recency", Weight: w.Reverification}
	if u.LastVerifiedAt.IsZero() {
		reverify.Value = s.cfg.NeutralScore
		reverify.Neutral = true
	} else {
		age := at.Sub(u.LastVerifiedAt)
		switch {
		case age <= time.Hour:
			reverify.Value = 100
		case age >= 24*time.Hour:
			reverify.Value = 0
		default:
			reverify.Value = 100 * (1 - age.Hours()/24)
		}
	}

	// Behavioral consistency: inverse of active anomaly weight.
	behavior := core.FactorScore{Name: "behavioral_consistency", Weight: w.Behavior, Value: 100}
	for _, a := range u.ActiveAnomalies() {
		behavior.Value -= a.Severity.Weight()
	}
	behavior.Value = clamp(behavior.Value)

	factors := []core.FactorScore{identity, reverify, behavior}
	return weightedScore(factors), factors
}

// ScoreDevice computes the device trust score from its compliance record.
func (s *Scorer) ScoreDevice(d *core.DeviceTrust) (float64, []core.FactorScore) {
	w := s.cfg.Factors

	compliance := core.FactorScore{Name: "compliance", Weight: w.Compliance}
	patch := core.FactorScore{Name: "patch_currency", Weight: w.PatchCurrency}
	if d.Assessed {
		compliance.Value = d.ComplianceScore
		switch {
		case d.Posture.PatchAgeDays <= 7:
			patch.Value = 100
		case d.Posture.PatchAgeDays >= 90:
			patch.Value = 0
		default:
			patch.Value = 100 * float64(90-d.Posture.PatchAgeDays) / 83
		}
	} else {
		compliance.Value = s.cfg.NeutralScore
		compliance.Neutral = true
		patch.Value = s.cfg.NeutralScore
		patch.Neutral = true
	}

	binding := core.FactorScore{Name: "network_binding", Weight: w.NetworkBinding}
	if d.NetworkSegment == "" {
		binding.Value = s.cfg.NeutralScore
		binding.Neutral = true
	} else if d.Managed {
		binding.Value = 90
	} else {
		binding.Value = 60
	}

	factors := []core.FactorScore{compliance, patch, binding}

	// A quarantined device has no standing regardless of posture.
	if d.Quarantined {
		return 0, factors
	}
	return weightedScore(factors), factors
}

// Composite combines user and device scores with the configured weights.
func (s *Scorer) Composite(userScore, deviceScore float64) float64 {
	return clamp(s.cfg.UserWeight*userScore + s.cfg.DeviceWeight*deviceScore)
}

// weightedScore is the weighted mean of the factors, normalized over the
// weight sum so partial factor sets still land in [0,100].
func weightedScore(factors []core.FactorScore) float64 {
	var sum, weights float64
	for _, f := range factors {
		sum += f.Value * f.Weight
		weights += f.Weight
	}
	if weights == 0 {
		return 0
	}
	return clamp(sum / weights)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
