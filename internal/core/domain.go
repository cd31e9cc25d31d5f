package core

import "time"

// Verdict is the outcome of an access evaluation.
type Verdict string

const (
	VerdictAllow   Verdict = "allow"
	VerdictDeny    Verdict = "deny"
	VerdictStepUp  Verdict = "step_up_auth"
	VerdictLimited Verdict = "limited_access"
)

// RequestState tracks a request through the decision pipeline.
type RequestState string

const (
	StateReceived        RequestState = "received"
	StateScored          RequestState = "scored"
	StatePolicyEvaluated RequestState = "policy_evaluated"
	StateDecided         RequestState = "decided"
	StateOverridden      RequestState = "overridden"
	StateArchived        RequestState = "archived"
)

// Severity classifies anomalies and lateral-movement alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the risk contribution of one anomaly at this severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 10
	case SeverityHigh:
		return 15
	case SeverityCritical:
		return 25
	}
	return 5
}

// RequestContext carries the situational attributes of one access attempt.
type RequestContext struct {
	Timestamp     time.Time `json:"timestamp"`
	SourceIP      string    `json:"source_ip"`
	SourceSegment string    `json:"source_segment,omitempty"`
	Location      string    `json:"location,omitempty"`
	Channel       string    `json:"channel"` // "web", "api", "cli"
	WorkloadID    string    `json:"workload_id,omitempty"`
}

// FactorScore is one named, normalized [0,100] trust factor.
// Neutral marks a factor that defaulted to 50 because no data was available,
// so breakdowns can distinguish "unknown" from "measured 50".
type FactorScore struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Weight  float64 `json:"weight"`
	Neutral bool    `json:"neutral,omitempty"`
}

// RiskFactor is one capped category contribution to the risk score.
type RiskFactor struct {
	Category     string  `json:"category"`
	Contribution float64 `json:"contribution"`
	Cap          float64 `json:"cap"`
	Detail       string  `json:"detail,omitempty"`
}

// TrustBreakdown is the full trust computation for one request.
type TrustBreakdown struct {
	Score         float64       `json:"score"`
	UserScore     float64       `json:"user_score"`
	DeviceScore   float64       `json:"device_score"`
	UserFactors   []FactorScore `json:"user_factors"`
	DeviceFactors []FactorScore `json:"device_factors"`
}

// RiskBreakdown is the full risk computation for one request.
type RiskBreakdown struct {
	Score   float64      `json:"score"`
	Factors []RiskFactor `json:"factors"`
}

// ApprovalEntry is one record in a request's append-only approval chain.
// The first entry is always the automated verdict; manual overrides append
// and supersede for enforcement without rewriting history.
type ApprovalEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"` // "engine" for the automated verdict
	Action    string    `json:"action"`
	Verdict   Verdict   `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ApprovalAutomated = "automated_verdict"
	ApprovalApproved  = "approved"
	ApprovalDenied    = "denied"
)

// AccessRequest is one evaluation instance. Mutated only by the decision
// engine while in flight; immutable once decided except for override entries
// appended to History.
type AccessRequest struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	DeviceID        string          `json:"device_id"`
	ResourceID      string          `json:"resource_id"`
	Sensitivity     int             `json:"sensitivity"` // 1-5
	Context         RequestContext  `json:"context"`
	Trust           TrustBreakdown  `json:"trust"`
	Risk            RiskBreakdown   `json:"risk"`
	MatchedPolicies []string        `json:"matched_policies,omitempty"`
	Verdict         Verdict         `json:"verdict,omitempty"`
	Rationale       []string        `json:"rationale,omitempty"`
	AllowedScope    []string        `json:"allowed_scope,omitempty"` // set when verdict is limited_access
	StepUpKind      string          `json:"step_up_kind,omitempty"`  // "mfa" or "reauth" when verdict is step_up_auth
	State           RequestState    `json:"state"`
	History         []ApprovalEntry `json:"history"`
	CreatedAt       time.Time       `json:"created_at"`
	DecidedAt       time.Time       `json:"decided_at,omitempty"`
}

// Clone returns a deep copy. Callers holding a clone can read it freely
// while the engine keeps appending to the original.
func (r *AccessRequest) Clone() *AccessRequest {
	c := *r
	c.MatchedPolicies = append([]string(nil), r.MatchedPolicies...)
	c.Rationale = append([]string(nil), r.Rationale...)
	c.AllowedScope = append([]string(nil), r.AllowedScope...)
	c.History = append([]ApprovalEntry(nil), r.History...)
	c.Trust.UserFactors = append([]FactorScore(nil), r.Trust.UserFactors...)
	c.Trust.DeviceFactors = append([]FactorScore(nil), r.Trust.DeviceFactors...)
	c.Risk.Factors = append([]RiskFactor(nil), r.Risk.Factors...)
	return &c
}

// EffectiveVerdict returns the verdict that enforcement should honor: the
// most recent override if one exists, otherwise the automated verdict.
func (r *AccessRequest) EffectiveVerdict() Verdict {
	for i := len(r.History) - 1; i >= 0; i-- {
		switch r.History[i].Action {
		case ApprovalApproved:
			return VerdictAllow
		case ApprovalDenied:
			return VerdictDeny
		case ApprovalAutomated:
			return r.History[i].Verdict
		}
	}
	return r.Verdict
}

// Anomaly is one behavioral deviation. Appended to the owning identity's
// anomaly log, never deleted; resolution stamps ResolvedAt in place.
type Anomaly struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Timestamp   time.Time  `json:"timestamp"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Active reports whether the anomaly is still unresolved.
func (a *Anomaly) Active() bool { return a.ResolvedAt == nil }

// UserIdentity is the directory record for one subject.
type UserIdentity struct {
	ID                 string    `json:"id"`
	Role               string    `json:"role"`
	Privileged         bool      `json:"privileged"`
	ClearanceLevel     int       `json:"clearance_level"` // 1-5
	AuthMethod         string    `json:"auth_method"`     // "password", "otp", "mfa", "hardware_key"
	LastVerifiedAt     time.Time `json:"last_verified_at"`
	FailedAuthAttempts int       `json:"failed_auth_attempts"`
	Watchlisted        bool      `json:"watchlisted"`
	Anomalies          []Anomaly `json:"anomalies,omitempty"`
	ActiveSessions     []string  `json:"active_sessions,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Clone returns a deep copy of the record.
func (u *UserIdentity) Clone() *UserIdentity {
	c := *u
	c.Anomalies = append([]Anomaly(nil), u.Anomalies...)
	c.ActiveSessions = append([]string(nil), u.ActiveSessions...)
	return &c
}

// ActiveAnomalies returns the unresolved entries of the anomaly log.
func (u *UserIdentity) ActiveAnomalies() []Anomaly {
	var active []Anomaly
	for _, a := range u.Anomalies {
		if a.Active() {
			active = append(active, a)
		}
	}
	return active
}

// DevicePosture is the observed security state of a device.
type DevicePosture struct {
	DiskEncrypted      bool `json:"disk_encrypted"`
	EndpointProtection bool `json:"endpoint_protection"`
	ScreenLock         bool `json:"screen_lock"`
	OSSupported        bool `json:"os_supported"`
	Jailbroken         bool `json:"jailbroken"`
	PatchAgeDays       int  `json:"patch_age_days"`
}

// DeviceTrust is the directory record for one device.
type DeviceTrust struct {
	ID               string        `json:"id"`
	Managed          bool          `json:"managed"`
	Posture          DevicePosture `json:"posture"`
	Assessed         bool          `json:"assessed"` // false until first compliance pass
	Compliant        bool          `json:"compliant"`
	Violations       []string      `json:"violations,omitempty"`
	ComplianceScore  float64       `json:"compliance_score"`
	NetworkSegment   string        `json:"network_segment,omitempty"`
	Quarantined      bool          `json:"quarantined"`
	QuarantineReason string        `json:"quarantine_reason,omitempty"`
	FirstSeen        time.Time     `json:"first_seen"`
	LastAssessed     time.Time     `json:"last_assessed,omitempty"`
}

// Clone returns a deep copy of the record.
func (d *DeviceTrust) Clone() *DeviceTrust {
	c := *d
	c.Violations = append([]string(nil), d.Violations...)
	return &c
}
