package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztx/accessd/internal/core"
)

func testGuard() *Guard {
	return NewGuard(GuardConfig{}, nil, nil)
}

func provisionPair(g *Guard) {
	g.Provision(&Segment{ID: "dmz", Name: "DMZ", Sensitivity: 2})
	g.Provision(&Segment{ID: "finance", Name: "Finance", Sensitivity: 4})
}

func TestCheckConnection_DefaultDeny(t *testing.T) {
	g := testGuard()
	provisionPair(g)

	d, err := g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 5432, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "default deny")
}

func TestCheckConnection_ExplicitAllowRule(t *testing.T) {
	g := testGuard()
	provisionPair(g)
	require.NoError(t, g.AddRule("finance", Rule{
		SourceSegment: "dmz", Port: 443, Protocol: "tcp", Allow: true,
	}))

	d, err := g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 443, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Same rule does not cover another port.
	d, err = g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 22, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCheckConnection_WildcardPortRule(t *testing.T) {
	g := testGuard()
	provisionPair(g)
	require.NoError(t, g.AddRule("finance", Rule{SourceSegment: "dmz", Allow: true}))

	for _, port := range []int{80, 443, 8080} {
		d, err := g.CheckConnection(Connection{
			SourceSegment: "dmz", DestSegment: "finance", Port: port, Protocol: "tcp",
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed, "port %d", port)
	}
}

func TestCheckConnection_UnknownDestination(t *testing.T) {
	g := testGuard()
	_, err := g.CheckConnection(Connection{SourceSegment: "dmz", DestSegment: "ghost"})
	require.Error(t, err)
	var nfe *core.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestLateralMovement_FirstUnexpectedCrossingFlagged(t *testing.T) {
	g := testGuard()
	provisionPair(g)

	conn := Connection{SourceSegment: "dmz", DestSegment: "finance", Port: 3389, Protocol: "tcp"}
	d, err := g.CheckConnection(conn)
	require.NoError(t, err)
	require.NotNil(t, d.Movement)
	// Finance sensitivity 4 maps to high.
	assert.Equal(t, core.SeverityHigh, d.Movement.Severity)

	seg, _ := g.Get("finance")
	require.Len(t, seg.SuspiciousLog, 1)
	assert.Equal(t, core.SeverityHigh, seg.SuspiciousLog[0].Severity)

	// Repeat of the same tuple stays denied but is no longer novel.
	d, err = g.CheckConnection(conn)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Movement)
}

func TestLateralMovement_ExpectedPeerNotFlagged(t *testing.T) {
	g := testGuard()
	g.Provision(&Segment{ID: "dmz", Sensitivity: 2})
	g.Provision(&Segment{
		ID: "finance", Sensitivity: 4,
		ExpectedPeers: map[string]bool{"dmz": true},
	})

	d, err := g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 443, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed) // still denied without a rule
	assert.Nil(t, d.Movement)  // but not lateral movement
}

func TestLateralMovement_SeverityTracksSensitivity(t *testing.T) {
	g := testGuard()
	g.Provision(&Segment{ID: "dmz", Sensitivity: 2})
	g.Provision(&Segment{ID: "mgmt", Sensitivity: 5})
	g.Provision(&Segment{ID: "lab", Sensitivity: 1})

	d, _ := g.CheckConnection(Connection{SourceSegment: "dmz", DestSegment: "mgmt", Port: 22, Protocol: "tcp"})
	require.NotNil(t, d.Movement)
	assert.Equal(t, core.SeverityCritical, d.Movement.Severity)

	d, _ = g.CheckConnection(Connection{SourceSegment: "dmz", DestSegment: "lab", Port: 80, Protocol: "tcp"})
	require.NotNil(t, d.Movement)
	assert.Equal(t, core.SeverityLow, d.Movement.Severity)
}

func TestQuarantine_DenyAllExceptManagement(t *testing.T) {
	g := testGuard()
	provisionPair(g)
	g.Provision(&Segment{ID: "management", Sensitivity: 5})
	require.NoError(t, g.AddRule("finance", Rule{SourceSegment: "dmz", Allow: true}))

	require.NoError(t, g.Quarantine("finance", "compromised host"))
	assert.True(t, g.IsQuarantined("finance"))

	// The previously allowed path is now denied.
	d, err := g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 443, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Management on a management port still gets through for remediation.
	d, err = g.CheckConnection(Connection{
		SourceSegment: "management", DestSegment: "finance", Port: 22, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Management on a non-management port does not.
	d, err = g.CheckConnection(Connection{
		SourceSegment: "management", DestSegment: "finance", Port: 8080, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestQuarantine_SourceSegmentBlocked(t *testing.T) {
	g := testGuard()
	provisionPair(g)
	require.NoError(t, g.AddRule("finance", Rule{SourceSegment: "dmz", Allow: true}))
	require.NoError(t, g.Quarantine("dmz", "worm activity"))

	d, err := g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 443, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "source segment quarantined")
}

func TestClearQuarantine_RestoresRules(t *testing.T) {
	g := testGuard()
	provisionPair(g)
	require.NoError(t, g.AddRule("finance", Rule{SourceSegment: "dmz", Allow: true}))
	require.NoError(t, g.Quarantine("finance", "drill"))
	require.NoError(t, g.ClearQuarantine("finance"))

	d, err := g.CheckConnection(Connection{
		SourceSegment: "dmz", DestSegment: "finance", Port: 443, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMicroSegmentation_SubSegmentsDefaultDeny(t *testing.T) {
	g := testGuard()
	g.Provision(&Segment{ID: "prod", Sensitivity: 4})
	g.Provision(&Segment{ID: "prod-web", Sensitivity: 4})
	require.NoError(t, g.AddRule("prod", Rule{SourceSegment: "prod-web", Allow: true}))

	require.NoError(t, g.EnableMicroSegmentation("prod", "by_workload", []string{"prod-web", "prod-db"}))

	// Traffic from a sub-segment is denied despite the allow rule.
	d, err := g.CheckConnection(Connection{
		SourceSegment: "prod-web", DestSegment: "prod", Port: 5432, Protocol: "tcp",
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "micro-segmentation")
}

func TestMicroSegmentation_RequiresTwoSubSegments(t *testing.T) {
	g := testGuard()
	g.Provision(&Segment{ID: "prod"})
	assert.Error(t, g.EnableMicroSegmentation("prod", "by_workload", []string{"only-one"}))
}
