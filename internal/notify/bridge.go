package notify

import (
	"github.com/ztx/accessd/internal/events"
)

// Bridge forwards engine events from the in-process bus to the webhook
// dispatcher. It decouples the decision path from delivery entirely: the
// engine publishes to the bus and never sees a subscriber.
type Bridge struct {
	ch      chan *events.CloudEvent
	bus     *events.EventBus
	emitter Emitter
	done    chan struct{}
}

// NewBridge subscribes to all bus events and starts forwarding.
func NewBridge(bus *events.EventBus, emitter Emitter) *Bridge {
	b := &Bridge{
		ch:      bus.Subscribe(),
		bus:     bus,
		emitter: emitter,
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	defer close(b.done)
	for ev := range b.ch {
		b.emitter.Emit(ev.Type, ev.Subject, ev.Data)
	}
}

// Close unsubscribes from the bus and waits for the forwarder to drain.
func (b *Bridge) Close() {
	b.bus.Unsubscribe(b.ch)
	<-b.done
}
