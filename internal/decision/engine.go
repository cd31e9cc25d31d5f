// Package decision orchestrates trust scoring, risk scoring, and policy
// evaluation into a final verdict with full rationale. The engine is the
// only writer of an AccessRequest while it is in flight; once decided the
// request is immutable except for override entries appended to its history.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ztx/accessd/internal/audit"
	"github.com/ztx/accessd/internal/behavior"
	"github.com/ztx/accessd/internal/config"
	"github.com/ztx/accessd/internal/core"
	"github.com/ztx/accessd/internal/directory"
	"github.com/ztx/accessd/internal/events"
	"github.com/ztx/accessd/internal/monitoring"
	"github.com/ztx/accessd/internal/policy"
	"github.com/ztx/accessd/internal/risk"
)

// TrustScorer computes user, device, and composite trust scores.
type TrustScorer interface {
	ScoreUser(u *core.UserIdentity, at time.Time) (float64, []core.FactorScore)
	ScoreDevice(d *core.DeviceTrust) (float64, []core.FactorScore)
	Composite(userScore, deviceScore float64) float64
}

// RiskScorer computes the request risk score from gathered signals.
type RiskScorer interface {
	Score(sig risk.Signals) (float64, []core.RiskFactor)
}

// PolicyEvaluator runs the policy pass for a request.
type PolicyEvaluator interface {
	EvaluateAll(req *core.AccessRequest, user *core.UserIdentity, trustScore float64) (policy.Outcome, error)
}

// AnomalyDetector is the behavioral baseline consulted per request.
type AnomalyDetector interface {
	Observe(userID string, act behavior.Activity)
	Detect(userID string, act behavior.Activity) []core.Anomaly
}

// ComplianceAssessor refreshes a device's compliance record in place.
type ComplianceAssessor interface {
	Assess(d *core.DeviceTrust, at time.Time)
}

// WorkloadValidator checks SPIFFE workload identities on requests.
type WorkloadValidator interface {
	Validate(id string) error
	Trusted(id string) bool
}

// SegmentGuard is consulted for quarantine state of the request's source
// segment.
type SegmentGuard interface {
	IsQuarantined(segmentID string) bool
}

// Deps are the engine's collaborators.
type Deps struct {
	Trust      TrustScorer
	Risk       RiskScorer
	Policies   PolicyEvaluator
	Behavior   AnomalyDetector
	Compliance ComplianceAssessor
	Directory  *directory.Store
	Segments   SegmentGuard
	Workloads  WorkloadValidator // optional
	Audit      audit.Sink
	Emitter    events.EventEmitter
	Metrics    *monitoring.Metrics
}

// Engine renders access decisions.
type Engine struct {
	cfg  config.DecisionConfig
	deps Deps

	mu      sync.RWMutex
	decided map[string]*core.AccessRequest
	order   []string // insertion order for eviction
}

// NewEngine creates a decision engine.
func NewEngine(cfg config.DecisionConfig, deps Deps) *Engine {
	if cfg.DenyThreshold == 0 {
		cfg.DenyThreshold = 80
	}
	if cfg.StepUpThreshold == 0 {
		cfg.StepUpThreshold = 50
	}
	if cfg.StepUpTrustFloor == 0 {
		cfg.StepUpTrustFloor = 60
	}
	if cfg.MaxRetainedRequests == 0 {
		cfg.MaxRetainedRequests = 10000
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		decided: make(map[string]*core.AccessRequest),
	}
}

const internalFailureReason = "internal_evaluation_failure"

// Evaluate runs the full pipeline for one request:
// received -> scored -> policy_evaluated -> decided.
//
// ValidationError and NotFoundError surface to the caller without a
// decision. Any internal failure during scoring or policy evaluation is
// converted to a deny verdict — the engine never defaults to allow on
// malfunction.
func (e *Engine) Evaluate(ctx context.Context, req *core.AccessRequest) (decided *core.AccessRequest, err error) {
	start := time.Now()

	if err := e.validate(req); err != nil {
		return nil, err
	}

	user, uerr := e.deps.Directory.GetUser(ctx, req.UserID)
	if uerr != nil {
		return nil, uerr
	}
	device, derr := e.deps.Directory.GetDevice(ctx, req.DeviceID)
	if derr != nil {
		return nil, derr
	}

	req.ID = uuid.NewString()
	req.State = core.StateReceived
	req.CreatedAt = time.Now()
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = req.CreatedAt
	}

	// Fail closed: a panic anywhere below becomes a deny, never an allow
	// and never a caller-visible crash.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Evaluation panic", "request_id", req.ID, "panic", r)
			decided, err = e.failClosed(ctx, req, fmt.Errorf("panic: %v", r)), nil
		}
	}()

	if evalErr := e.run(ctx, req, user, device); evalErr != nil {
		return e.failClosed(ctx, req, evalErr), nil
	}

	e.record(ctx, req)
	if e.deps.Metrics != nil {
		e.deps.Metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}
	return req, nil
}

func (e *Engine) validate(req *core.AccessRequest) error {
	if req.UserID == "" {
		return &core.ValidationError{Field: "user_id", Msg: "required"}
	}
	if req.DeviceID == "" {
		return &core.ValidationError{Field: "device_id", Msg: "required"}
	}
	if req.ResourceID == "" {
		return &core.ValidationError{Field: "resource_id", Msg: "required"}
	}
	if req.Context.WorkloadID != "" && e.deps.Workloads != nil {
		if err := e.deps.Workloads.Validate(req.Context.WorkloadID); err != nil {
			return &core.ValidationError{Field: "workload_id", Msg: err.Error()}
		}
	}
	return nil
}

// run executes scoring and policy evaluation. Every returned error is an
// internal failure the caller converts to a fail-closed deny.
func (e *Engine) run(ctx context.Context, req *core.AccessRequest, user *core.UserIdentity, device *core.DeviceTrust) error {
	at := req.Context.Timestamp

	// 1. Refresh device compliance. Reassessed on every request.
	if err := e.deps.Directory.UpdateDevice(ctx, device.ID, func(d *core.DeviceTrust) error {
		e.deps.Compliance.Assess(d, at)
		*device = *d
		return nil
	}); err != nil {
		return &core.EvaluationError{Stage: "compliance", Err: err}
	}

	// 2. Behavioral detection against the baseline as it stood before this
	// request, then fold the activity in. Detection failures are non-fatal:
	// the signal reads as unavailable, not as an abort.
	act := behavior.Activity{
		Timestamp:  at,
		Location:   req.Context.Location,
		DeviceID:   req.DeviceID,
		ResourceID: req.ResourceID,
	}
	detected := e.detectAnomalies(user.ID, act)
	if len(detected) > 0 {
		if err := e.deps.Directory.UpdateUser(ctx, user.ID, func(u *core.UserIdentity) error {
			u.Anomalies = append(u.Anomalies, detected...)
			*user = *u
			return nil
		}); err != nil {
			return &core.EvaluationError{Stage: "anomaly_log", Err: err}
		}
		for _, a := range detected {
			if e.deps.Metrics != nil {
				e.deps.Metrics.AnomaliesDetected.WithLabelValues(a.Type).Inc()
			}
			if e.deps.Emitter != nil {
				e.deps.Emitter.Emit(events.TypeAnomalyDetected, "/behavior", user.ID, map[string]interface{}{
					"user_id":  user.ID,
					"type":     a.Type,
					"severity": string(a.Severity),
				})
			}
		}
	}
	e.deps.Behavior.Observe(user.ID, act)

	// 3. Trust.
	userScore, userFactors := e.deps.Trust.ScoreUser(user, at)
	deviceScore, deviceFactors := e.deps.Trust.ScoreDevice(device)
	composite := e.deps.Trust.Composite(userScore, deviceScore)
	req.Trust = core.TrustBreakdown{
		Score:         composite,
		UserScore:     userScore,
		DeviceScore:   deviceScore,
		UserFactors:   userFactors,
		DeviceFactors: deviceFactors,
	}

	// 4. Risk.
	violations := append([]string{}, device.Violations...)
	if req.Context.WorkloadID != "" && e.deps.Workloads != nil && !e.deps.Workloads.Trusted(req.Context.WorkloadID) {
		violations = append(violations, "untrusted_workload_domain")
	}
	riskScore, riskFactors := e.deps.Risk.Score(risk.Signals{
		FailedAuthAttempts:  user.FailedAuthAttempts,
		ActiveAnomalies:     user.ActiveAnomalies(),
		PolicyViolations:    violations,
		Watchlisted:         user.Watchlisted,
		NewDevice:           hasAnomaly(detected, "new_device"),
		NewLocation:         hasAnomaly(detected, "unusual_location"),
		UnusualTime:         hasAnomaly(detected, "unusual_time"),
		ResourceSensitivity: req.Sensitivity,
	})
	req.Risk = core.RiskBreakdown{Score: riskScore, Factors: riskFactors}
	req.State = core.StateScored

	if e.deps.Metrics != nil {
		e.deps.Metrics.TrustScore.Observe(composite)
		e.deps.Metrics.RiskScore.Observe(riskScore)
	}

	// 5. Policies.
	outcome, err := e.deps.Policies.EvaluateAll(req, user, composite)
	if err != nil {
		return err
	}
	req.State = core.StatePolicyEvaluated
	for _, ev := range outcome.Evaluations {
		req.MatchedPolicies = append(req.MatchedPolicies, fmt.Sprintf("%s@v%d", ev.PolicyID, ev.Version))
		if e.deps.Metrics != nil {
			e.deps.Metrics.PolicyEvaluations.WithLabelValues(string(ev.Mode), policyOutcome(ev)).Inc()
		}
		if ev.MonitorOnly {
			// Monitor mode: a would-be block is logged and emitted, never
			// enforced.
			req.Rationale = append(req.Rationale,
				fmt.Sprintf("policy %s v%d failed in monitor mode (not enforced)", ev.PolicyID, ev.Version))
			if e.deps.Emitter != nil {
				e.deps.Emitter.Emit(events.TypeMonitorViolation, "/policies", ev.PolicyID, map[string]interface{}{
					"policy_id":  ev.PolicyID,
					"version":    ev.Version,
					"request_id": req.ID,
				})
			}
		}
	}

	// 6. Verdict.
	e.decide(req, device, outcome)
	return nil
}

// decide applies the deterministic decision rule.
func (e *Engine) decide(req *core.AccessRequest, device *core.DeviceTrust, outcome policy.Outcome) {
	trustScore := req.Trust.Score
	riskScore := req.Risk.Score

	switch {
	case device.Quarantined:
		req.Verdict = core.VerdictDeny
		req.Rationale = append(req.Rationale,
			fmt.Sprintf("device %s quarantined: %s", device.ID, device.QuarantineReason))

	case req.Context.SourceSegment != "" && e.deps.Segments != nil && e.deps.Segments.IsQuarantined(req.Context.SourceSegment):
		req.Verdict = core.VerdictDeny
		req.Rationale = append(req.Rationale,
			fmt.Sprintf("source segment %s quarantined", req.Context.SourceSegment))

	case outcome.Blocking != nil:
		req.Verdict = core.VerdictDeny
		b := outcome.Blocking
		if !b.RequirementMet {
			req.Rationale = append(req.Rationale,
				fmt.Sprintf("policy %s v%d: trust %.1f below required minimum", b.PolicyID, b.Version, trustScore))
		} else {
			req.Rationale = append(req.Rationale,
				fmt.Sprintf("policy %s v%d: condition failed", b.PolicyID, b.Version))
		}

	case riskScore >= e.cfg.DenyThreshold:
		req.Verdict = core.VerdictDeny
		req.Rationale = append(req.Rationale,
			fmt.Sprintf("risk %.1f at or above deny threshold %.1f", riskScore, e.cfg.DenyThreshold))

	case riskScore >= e.cfg.StepUpThreshold || trustScore < e.cfg.StepUpTrustFloor:
		req.Verdict = core.VerdictStepUp
		if trustScore < e.cfg.StepUpTrustFloor {
			req.StepUpKind = "mfa"
			req.Rationale = append(req.Rationale,
				fmt.Sprintf("trust %.1f below floor %.1f", trustScore, e.cfg.StepUpTrustFloor))
		} else {
			req.StepUpKind = "reauth"
			req.Rationale = append(req.Rationale,
				fmt.Sprintf("risk %.1f at or above step-up threshold %.1f", riskScore, e.cfg.StepUpThreshold))
		}

	case outcome.Grant != nil:
		req.Verdict = core.VerdictLimited
		req.AllowedScope = outcome.Grant
		req.Rationale = append(req.Rationale,
			fmt.Sprintf("policy grants access to %d resource(s) only", len(outcome.Grant)))

	default:
		req.Verdict = core.VerdictAllow
		req.Rationale = append(req.Rationale,
			fmt.Sprintf("trust %.1f, risk %.1f within thresholds; no enforcing policy blocks", trustScore, riskScore))
	}
}

// failClosed converts an internal failure into a deny decision.
func (e *Engine) failClosed(ctx context.Context, req *core.AccessRequest, cause error) *core.AccessRequest {
	slog.Error("Evaluation failed, denying", "request_id", req.ID, "error", cause)
	if e.deps.Metrics != nil {
		e.deps.Metrics.EvaluationFailures.Inc()
	}

	req.Verdict = core.VerdictDeny
	req.Rationale = append(req.Rationale, internalFailureReason)
	e.record(ctx, req)
	return req
}

// record finalizes the decision: approval chain, registry, audit, events.
func (e *Engine) record(ctx context.Context, req *core.AccessRequest) {
	req.DecidedAt = time.Now()
	req.State = core.StateDecided
	req.History = append(req.History, core.ApprovalEntry{
		ID:        uuid.NewString(),
		Actor:     "engine",
		Action:    core.ApprovalAutomated,
		Verdict:   req.Verdict,
		Reason:    joinRationale(req.Rationale),
		Timestamp: req.DecidedAt,
	})

	// The registry keeps its own copy so the caller's request and the
	// retained one never share mutable state. The durable trail is the
	// audit log; the registry is a bounded working set.
	e.mu.Lock()
	e.decided[req.ID] = req.Clone()
	e.order = append(e.order, req.ID)
	for len(e.order) > e.cfg.MaxRetainedRequests {
		delete(e.decided, e.order[0])
		e.order = e.order[1:]
	}
	e.mu.Unlock()

	if e.deps.Metrics != nil {
		e.deps.Metrics.DecisionsTotal.WithLabelValues(string(req.Verdict)).Inc()
	}

	rec := audit.NewRecord(audit.KindDecision)
	rec.RequestID = req.ID
	rec.UserID = req.UserID
	rec.DeviceID = req.DeviceID
	rec.Actor = "engine"
	rec.Verdict = string(req.Verdict)
	rec.Rationale = req.Rationale
	rec.Detail = map[string]interface{}{
		"trust_score":      req.Trust.Score,
		"risk_score":       req.Risk.Score,
		"matched_policies": req.MatchedPolicies,
	}
	if err := e.deps.Audit.Append(ctx, rec); err != nil {
		slog.Error("Audit append failed", "request_id", req.ID, "error", err)
	}

	if e.deps.Emitter != nil {
		e.deps.Emitter.Emit(events.TypeDecisionRendered, "/decisions", req.ID, map[string]interface{}{
			"request_id":  req.ID,
			"user_id":     req.UserID,
			"device_id":   req.DeviceID,
			"resource_id": req.ResourceID,
			"verdict":     string(req.Verdict),
			"trust_score": req.Trust.Score,
			"risk_score":  req.Risk.Score,
		})
	}
}

// detectAnomalies shields the decision from detector failures: a panic in
// detection reads as no signal, not a failed evaluation.
func (e *Engine) detectAnomalies(userID string, act behavior.Activity) (anomalies []core.Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Anomaly detection failed, treating signal as unavailable", "user_id", userID, "panic", r)
			anomalies = nil
		}
	}()
	return e.deps.Behavior.Detect(userID, act)
}

// Get returns a detached copy of a decided request, so callers can read
// it while a concurrent override appends to the retained one.
func (e *Engine) Get(requestID string) (*core.AccessRequest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	req, ok := e.decided[requestID]
	if !ok {
		return nil, &core.NotFoundError{Kind: "request", ID: requestID}
	}
	return req.Clone(), nil
}

func hasAnomaly(anomalies []core.Anomaly, kind string) bool {
	for _, a := range anomalies {
		if a.Type == kind {
			return true
		}
	}
	return false
}

func policyOutcome(ev policy.Evaluation) string {
	switch {
	case ev.Blocking:
		return "blocking"
	case ev.Failed:
		return "failed"
	default:
		return "passed"
	}
}

func joinRationale(rationale []string) string {
	if len(rationale) == 0 {
		return ""
	}
	out := rationale[0]
	for _, r := range rationale[1:] {
		out += "; " + r
	}
	return out
}
