// Package policy holds the zero-trust policy model, the versioned policy
// store, and the evaluator that matches and evaluates policies against
// access requests.
package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ztx/accessd/internal/core"
)

// Mode controls whether a failing policy blocks or only logs.
type Mode string

const (
	ModeMonitor Mode = "monitor"
	ModeEnforce Mode = "enforce"
)

// Status is the policy lifecycle state. Only active policies apply.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Scope selects which requests a policy applies to. Empty selector lists
// match everything; resource selectors match by prefix.
type Scope struct {
	Resources []string `json:"resources,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Segments  []string `json:"segments,omitempty"`
}

// Matches reports whether a request falls inside the scope.
func (s Scope) Matches(req *core.AccessRequest, role string) bool {
	if len(s.Resources) > 0 && !matchesPrefix(s.Resources, req.ResourceID) {
		return false
	}
	if len(s.Roles) > 0 && !contains(s.Roles, role) {
		return false
	}
	if len(s.Segments) > 0 && !contains(s.Segments, req.Context.SourceSegment) {
		return false
	}
	return true
}

// Condition is one predicate evaluated against request context.
// Attributes: "channel", "source_segment", "location", "hour",
// "sensitivity", "role", "clearance". Operators: eq, ne, in, not_in,
// gte, lte.
type Condition struct {
	Attribute string `json:"attribute"`
	Operator  string `json:"operator"`
	Value     string `json:"value"` // comma-separated for in/not_in
}

// Evaluate checks the condition against a request. Unknown attributes or
// operators fail closed (return an error so the engine denies).
func (c Condition) Evaluate(req *core.AccessRequest, user *core.UserIdentity) (bool, error) {
	var actual string
	switch c.Attribute {
	case "channel":
		actual = req.Context.Channel
	case "source_segment":
		actual = req.Context.SourceSegment
	case "location":
		actual = req.Context.Location
	case "hour":
		actual = strconv.Itoa(req.Context.Timestamp.Hour())
	case "sensitivity":
		actual = strconv.Itoa(req.Sensitivity)
	case "role":
		if user != nil {
			actual = user.Role
		}
	case "clearance":
		if user != nil {
			actual = strconv.Itoa(user.ClearanceLevel)
		}
	default:
		return false, fmt.Errorf("unknown condition attribute %q", c.Attribute)
	}

	switch c.Operator {
	case "eq":
		return actual == c.Value, nil
	case "ne":
		return actual != c.Value, nil
	case "in":
		return contains(splitCSV(c.Value), actual), nil
	case "not_in":
		return !contains(splitCSV(c.Value), actual), nil
	case "gte", "lte":
		a, err := strconv.Atoi(actual)
		if err != nil {
			return false, fmt.Errorf("attribute %q is not numeric: %q", c.Attribute, actual)
		}
		v, err := strconv.Atoi(c.Value)
		if err != nil {
			return false, fmt.Errorf("condition value is not numeric: %q", c.Value)
		}
		if c.Operator == "gte" {
			return a >= v, nil
		}
		return a <= v, nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", c.Operator)
	}
}

// Policy is one version of a zero-trust rule. Edits create a new version
// through the store; versions are never mutated in place.
type Policy struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Version          int         `json:"version"`
	Scope            Scope       `json:"scope"`
	MinTrustScore    float64     `json:"min_trust_score"`
	Conditions       []Condition `json:"conditions,omitempty"`
	Mode             Mode        `json:"mode"`
	Priority         int         `json:"priority"` // lower = evaluated first
	Status           Status      `json:"status"`
	AllowedResources []string    `json:"allowed_resources,omitempty"` // non-empty grants only this subset
	CreatedAt        time.Time   `json:"created_at"`
	CreatedBy        string      `json:"created_by"`
	Reason           string      `json:"reason,omitempty"`
}

func matchesPrefix(prefixes []string, v string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
