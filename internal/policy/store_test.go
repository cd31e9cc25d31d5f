package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPush_AssignsVersionsAndActivates(t *testing.T) {
	ps := NewStore()

	v1 := ps.Push(&Policy{ID: "p1", Name: "first", MinTrustScore: 50})
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 1, ps.ActiveVersion("p1"))

	v2 := ps.Push(&Policy{ID: "p1", Name: "second", MinTrustScore: 70})
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 2, ps.ActiveVersion("p1"))

	active := ps.GetActive("p1")
	require.NotNil(t, active)
	assert.Equal(t, 70.0, active.MinTrustScore)
}

func TestRollback_ReactivatesOldVersion(t *testing.T) {
	ps := NewStore()
	ps.Push(&Policy{ID: "p1", MinTrustScore: 50})
	ps.Push(&Policy{ID: "p1", MinTrustScore: 70})

	rolled, err := ps.Rollback("p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled.Version)
	assert.Equal(t, 50.0, rolled.MinTrustScore)

	active := ps.GetActive("p1")
	assert.Equal(t, 1, active.Version)

	// History is intact: both versions still present.
	assert.Len(t, ps.GetHistory("p1"), 2)
}

func TestRollback_RejectsBadTargets(t *testing.T) {
	ps := NewStore()
	ps.Push(&Policy{ID: "p1"})

	_, err := ps.Rollback("p1", 0)
	assert.Error(t, err)
	_, err = ps.Rollback("p1", 2)
	assert.Error(t, err)
	_, err = ps.Rollback("ghost", 1)
	assert.Error(t, err)
}

func TestActivePolicies_FiltersLifecycleStatus(t *testing.T) {
	ps := NewStore()
	ps.Push(&Policy{ID: "live"})
	ps.Push(&Policy{ID: "parked", Status: StatusPaused})
	ps.Push(&Policy{ID: "gone", Status: StatusArchived})
	ps.Push(&Policy{ID: "pending", Status: StatusDraft})

	active := ps.ActivePolicies()
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ID)
}

func TestActivePolicies_TotalOrder(t *testing.T) {
	ps := NewStore()
	ps.Push(&Policy{ID: "zeta", Priority: 1})
	ps.Push(&Policy{ID: "alpha", Priority: 1})
	ps.Push(&Policy{ID: "mid", Priority: 5})
	ps.Push(&Policy{ID: "first", Priority: 0})

	active := ps.ActivePolicies()
	require.Len(t, active, 4)
	assert.Equal(t, "first", active[0].ID)
	assert.Equal(t, "alpha", active[1].ID) // tie at 1 broken by id
	assert.Equal(t, "zeta", active[2].ID)
	assert.Equal(t, "mid", active[3].ID)
}

func TestStore_NeverMutatesStoredVersions(t *testing.T) {
	ps := NewStore()
	ps.Push(&Policy{ID: "p1", Name: "first", MinTrustScore: 50})

	v1 := ps.GetHistory("p1")[0]
	snapshot := *v1

	// Activation churn only touches the store's activation map, not the
	// stored versions an in-flight evaluation may be reading.
	ps.Push(&Policy{ID: "p1", Name: "second", MinTrustScore: 70})
	_, err := ps.Rollback("p1", 1)
	require.NoError(t, err)
	ps.Push(&Policy{ID: "p1", Name: "third", MinTrustScore: 90})

	assert.Equal(t, snapshot, *v1)
	assert.Equal(t, 3, ps.ActiveVersion("p1"))
}

func TestPush_DoesNotAliasCallerPolicy(t *testing.T) {
	ps := NewStore()
	p := &Policy{ID: "p1", MinTrustScore: 50}
	stored := ps.Push(p)

	p.MinTrustScore = 99
	assert.Equal(t, 50.0, stored.MinTrustScore)
	assert.Equal(t, 50.0, ps.GetActive("p1").MinTrustScore)
}
