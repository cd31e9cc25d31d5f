package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ztx/accessd/internal/events"
)

// EventStreamer fans engine events out to WebSocket clients so operators
// can watch decisions, anomalies, and segment alerts live.
type EventStreamer struct {
	bus        *events.EventBus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stopCh     chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
}

// NewEventStreamer creates a streamer over the in-process bus.
func NewEventStreamer(bus *events.EventBus) *EventStreamer {
	return &EventStreamer{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopCh:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
}

// Run starts the hub loop. Blocks until Stop.
func (es *EventStreamer) Run() {
	sub := es.bus.Subscribe()
	defer es.bus.Unsubscribe(sub)

	for {
		select {
		case client := <-es.register:
			es.clients[client] = true
			slog.Info("Event stream client connected", "total", len(es.clients))

		case client := <-es.unregister:
			if _, ok := es.clients[client]; ok {
				delete(es.clients, client)
				client.Close()
			}

		case ev := <-sub:
			for client := range es.clients {
				if err := client.WriteJSON(ev); err != nil {
					client.Close()
					delete(es.clients, client)
				}
			}

		case <-es.stopCh:
			for client := range es.clients {
				client.Close()
			}
			return
		}
	}
}

// Stop shuts the hub down.
func (es *EventStreamer) Stop() {
	es.stopOnce.Do(func() { close(es.stopCh) })
}

// HandleWebSocket upgrades the connection and registers the client.
func (es *EventStreamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := es.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	es.register <- conn

	// Drain client reads; exit unregisters.
	go func() {
		defer func() {
			es.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
