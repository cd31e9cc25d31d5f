package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_ChainsRecords(t *testing.T) {
	ms := NewMemorySink()
	ctx := context.Background()

	first := NewRecord(KindDecision)
	first.RequestID = "req-1"
	require.NoError(t, ms.Append(ctx, first))
	assert.Empty(t, first.PrevHash)
	assert.NotEmpty(t, first.Hash)

	second := NewRecord(KindOverride)
	second.RequestID = "req-1"
	require.NoError(t, ms.Append(ctx, second))
	assert.Equal(t, first.Hash, second.PrevHash)

	assert.True(t, ms.Verify())
}

func TestByRequest_AppendOrder(t *testing.T) {
	ms := NewMemorySink()
	ctx := context.Background()

	a := NewRecord(KindDecision)
	a.RequestID = "req-1"
	b := NewRecord(KindAnomaly)
	b.RequestID = "req-2"
	c := NewRecord(KindOverride)
	c.RequestID = "req-1"

	require.NoError(t, ms.Append(ctx, a))
	require.NoError(t, ms.Append(ctx, b))
	require.NoError(t, ms.Append(ctx, c))

	recs, err := ms.ByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, KindDecision, recs[0].Kind)
	assert.Equal(t, KindOverride, recs[1].Kind)

	none, err := ms.ByRequest(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVerify_DetectsTampering(t *testing.T) {
	ms := NewMemorySink()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := NewRecord(KindDecision)
		rec.RequestID = "req-1"
		rec.Verdict = "allow"
		require.NoError(t, ms.Append(ctx, rec))
	}
	require.True(t, ms.Verify())

	// Rewrite history: flip a verdict in the middle of the chain.
	ms.records[2].Verdict = "deny"
	assert.False(t, ms.Verify())
}

func TestVerify_DetectsReordering(t *testing.T) {
	ms := NewMemorySink()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ms.Append(ctx, NewRecord(KindDecision)))
	}
	ms.records[0], ms.records[1] = ms.records[1], ms.records[0]
	assert.False(t, ms.Verify())
}
