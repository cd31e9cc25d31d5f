package trust

import (
	"time"

	"github.com/ztx/accessd/internal/core"
)

// ComplianceAssessor evaluates device posture against compliance
// requirements and produces the violation list and compliance score that
// feed device trust.
type ComplianceAssessor struct {
	MaxPatchAgeDays int
}

// NewComplianceAssessor creates an assessor. maxPatchAgeDays of 0 uses 30.
func NewComplianceAssessor(maxPatchAgeDays int) *ComplianceAssessor {
	if maxPatchAgeDays == 0 {
		maxPatchAgeDays = 30
	}
	return &ComplianceAssessor{MaxPatchAgeDays: maxPatchAgeDays}
}

// violation penalties sum to more than 100 so a device failing everything
// bottoms out at zero.
const (
	penaltyEncryption = 30
	penaltyEndpoint   = 25
	penaltyPatch      = 20
	penaltyOS         = 20
	penaltyScreenLock = 10
	penaltyJailbreak  = 40
)

// Assess updates the device's compliance verdict, violations, and score in
// place and stamps LastAssessed. Violations replace the previous assessment;
// the device record itself is reassessed on every request.
func (ca *ComplianceAssessor) Assess(d *core.DeviceTrust, at time.Time) {
	var violations []string
	score := 100.0

	p := d.Posture
	if !p.DiskEncrypted {
		violations = append(violations, "disk_not_encrypted")
		score -= penaltyEncryption
	}
	if !p.EndpointProtection {
		violations = append(violations, "endpoint_protection_missing")
		score -= penaltyEndpoint
	}
	if p.PatchAgeDays > ca.MaxPatchAgeDays {
		violations = append(violations, "patches_outdated")
		score -= penaltyPatch
	}
	if !p.OSSupported {
		violations = append(violations, "os_unsupported")
		score -= penaltyOS
	}
	if !p.ScreenLock {
		violations = append(violations, "screen_lock_disabled")
		score -= penaltyScreenLock
	}
	if p.Jailbroken {
		violations = append(violations, "device_jailbroken")
		score -= penaltyJailbreak
	}

	if score < 0 {
		score = 0
	}

	d.Assessed = true
	d.Compliant = len(violations) == 0
	d.Violations = violations
	d.ComplianceScore = score
	d.LastAssessed = at
}
