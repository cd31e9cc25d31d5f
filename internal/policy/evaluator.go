package policy

import (
	"fmt"

	"github.com/ztx/accessd/internal/core"
)

// ConditionResult records the outcome of one condition.
type ConditionResult struct {
	Condition Condition `json:"condition"`
	Passed    bool      `json:"passed"`
}

// Evaluation is the recorded outcome of evaluating one policy against one
// request. All evaluations are recorded for audit even after a blocking
// outcome is determined.
type Evaluation struct {
	PolicyID       string            `json:"policy_id"`
	Version        int               `json:"version"`
	Priority       int               `json:"priority"`
	Mode           Mode              `json:"mode"`
	Conditions     []ConditionResult `json:"conditions,omitempty"`
	RequirementMet bool              `json:"requirement_met"`
	Failed         bool              `json:"failed"`   // requirement unmet or a condition failed
	Blocking       bool              `json:"blocking"` // first enforcing failure for this request
	MonitorOnly    bool              `json:"monitor_only,omitempty"`
}

// Outcome summarizes a full policy pass over one request.
type Outcome struct {
	Evaluations []Evaluation
	Blocking    *Evaluation // nil when no enforcing policy failed
	// Grant is the resource subset granted by the highest-precedence matching
	// policy that restricts scope; nil means a full grant.
	Grant []string
}

// Evaluator selects applicable policies and evaluates them in priority
// order.
type Evaluator struct {
	store *Store
}

// NewEvaluator creates an evaluator over the given store.
func NewEvaluator(store *Store) *Evaluator {
	return &Evaluator{store: store}
}

// Applicable returns active policies whose scope matches the request,
// ordered by ascending priority (ties by id).
func (e *Evaluator) Applicable(req *core.AccessRequest, user *core.UserIdentity) []*Policy {
	role := ""
	if user != nil {
		role = user.Role
	}

	var matched []*Policy
	for _, p := range e.store.ActivePolicies() {
		if p.Scope.Matches(req, role) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Evaluate checks one policy against the request: every condition must pass
// (AND) and the trust score must meet the policy minimum.
func (e *Evaluator) Evaluate(req *core.AccessRequest, user *core.UserIdentity, trustScore float64, p *Policy) (Evaluation, error) {
	ev := Evaluation{
		PolicyID:       p.ID,
		Version:        p.Version,
		Priority:       p.Priority,
		Mode:           p.Mode,
		RequirementMet: trustScore >= p.MinTrustScore,
	}

	allPassed := true
	for _, c := range p.Conditions {
		passed, err := c.Evaluate(req, user)
		if err != nil {
			return ev, &core.EvaluationError{
				Stage: "policy_condition",
				Err:   fmt.Errorf("policy %s v%d: %w", p.ID, p.Version, err),
			}
		}
		ev.Conditions = append(ev.Conditions, ConditionResult{Condition: c, Passed: passed})
		if !passed {
			allPassed = false
		}
	}

	ev.Failed = !ev.RequirementMet || !allPassed
	return ev, nil
}

// EvaluateAll runs the full pass: all applicable policies are evaluated and
// recorded, the first failing policy in enforce mode determines the blocking
// outcome, and later enforcing policies cannot override it. Monitor-mode
// failures are flagged for logging but never block.
func (e *Evaluator) EvaluateAll(req *core.AccessRequest, user *core.UserIdentity, trustScore float64) (Outcome, error) {
	out := Outcome{}

	for _, p := range e.Applicable(req, user) {
		ev, err := e.Evaluate(req, user, trustScore, p)
		if err != nil {
			return out, err
		}

		if ev.Failed {
			if p.Mode == ModeEnforce && out.Blocking == nil {
				ev.Blocking = true
			} else if p.Mode == ModeMonitor {
				ev.MonitorOnly = true
			}
		}

		if !ev.Failed && len(p.AllowedResources) > 0 && out.Grant == nil {
			out.Grant = p.AllowedResources
		}

		out.Evaluations = append(out.Evaluations, ev)
		if ev.Blocking {
			b := ev
			out.Blocking = &b
		}
	}

	return out, nil
}
