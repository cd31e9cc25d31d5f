package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_TypedSubscription(t *testing.T) {
	bus := NewEventBus()
	decisions := bus.Subscribe(TypeDecisionRendered)
	anomalies := bus.Subscribe(TypeAnomalyDetected)

	bus.Emit(TypeDecisionRendered, "/decisions", "req-1", map[string]interface{}{"verdict": "allow"})

	select {
	case ev := <-decisions:
		assert.Equal(t, TypeDecisionRendered, ev.Type)
		assert.Equal(t, "req-1", ev.Subject)
		assert.Equal(t, "1.0", ev.SpecVersion)
	case <-time.After(time.Second):
		t.Fatal("expected a decision event")
	}

	select {
	case <-anomalies:
		t.Fatal("anomaly subscriber must not see decision events")
	default:
	}
}

func TestEmit_WildcardSubscription(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()

	bus.Emit(TypeSessionRevoked, "/sessions", "s-1", nil)
	bus.Emit(TypeLateralMovement, "/segments", "finance", nil)

	first := <-all
	second := <-all
	assert.Equal(t, TypeSessionRevoked, first.Type)
	assert.Equal(t, TypeLateralMovement, second.Type)
}

func TestPublish_FullSubscriberSkippedNotBlocked(t *testing.T) {
	bus := NewEventBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(TypeDecisionRendered)

	done := make(chan struct{})
	go func() {
		// Second emit would block on an unbuffered path; it must be dropped
		// instead.
		bus.Emit(TypeDecisionRendered, "/decisions", "a", nil)
		bus.Emit(TypeDecisionRendered, "/decisions", "b", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	ev := <-ch
	assert.Equal(t, "a", ev.Subject)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TypeDecisionRendered)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Channel is closed after unsubscribe.
	_, open := <-ch
	assert.False(t, open)
}
