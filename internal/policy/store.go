package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store manages versioned policy history. Every Push creates a new version
// and makes it active; Rollback re-activates an earlier version. History is
// never mutated in place, so in-flight evaluations always see a consistent
// snapshot.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]*Policy // policy id → ordered versions
	active   map[string]int       // policy id → active version number
}

// NewStore creates an empty policy store.
func NewStore() *Store {
	return &Store{
		versions: make(map[string][]*Policy),
		active:   make(map[string]int),
	}
}

// Push adds a new version of a policy and makes it active. The version
// counter is assigned by the store. Which version is active lives in the
// store's activation map only; stored versions are never written again.
func (ps *Store) Push(p *Policy) *Policy {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	next := len(ps.versions[p.ID]) + 1
	stored := *p
	stored.Version = next
	stored.CreatedAt = time.Now()
	if stored.Status == "" {
		stored.Status = StatusActive
	}

	ps.versions[p.ID] = append(ps.versions[p.ID], &stored)
	ps.active[p.ID] = next
	return &stored
}

// Rollback activates a previous version of a policy.
func (ps *Store) Rollback(policyID string, targetVersion int) (*Policy, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	versions, ok := ps.versions[policyID]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("no versions found for policy: %s", policyID)
	}
	if targetVersion < 1 || targetVersion > len(versions) {
		return nil, fmt.Errorf("invalid version %d for policy %s (range: 1-%d)", targetVersion, policyID, len(versions))
	}

	ps.active[policyID] = targetVersion
	return versions[targetVersion-1], nil
}

// ActiveVersion returns the active version number of a policy, or 0 when
// the policy is unknown.
func (ps *Store) ActiveVersion(policyID string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.active[policyID]
}

// GetActive returns the currently active version of a policy, or nil.
func (ps *Store) GetActive(policyID string) *Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	ver, ok := ps.active[policyID]
	if !ok {
		return nil
	}
	versions := ps.versions[policyID]
	if ver < 1 || ver > len(versions) {
		return nil
	}
	return versions[ver-1]
}

// GetHistory returns all versions of a policy in order.
func (ps *Store) GetHistory(policyID string) []*Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.versions[policyID]
}

// ActivePolicies returns the active version of every policy whose lifecycle
// status is active, ordered by ascending priority with ties broken by
// policy id so the ordering is total.
func (ps *Store) ActivePolicies() []*Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]*Policy, 0, len(ps.active))
	for id, ver := range ps.active {
		versions := ps.versions[id]
		if ver < 1 || ver > len(versions) {
			continue
		}
		p := versions[ver-1]
		if p.Status == StatusActive {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
