package adminserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType names the engine lifecycle events the broadcaster carries.
type EventType string

const (
	EventCommit       EventType = "commit"
	EventAbort        EventType = "abort"
	EventEpochAdvance EventType = "epoch_advance"
	EventGCReclaim    EventType = "gc_reclaim"
)

// Event is a single lifecycle occurrence pushed to connected
// operators.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// EventBroadcaster fans out engine lifecycle events to every connected
// WebSocket client: connection bookkeeping and heartbeat mechanics,
// collapsed from per-client filtered subscriptions to a single
// broadcast feed, since every admin connection watches the whole
// engine.
type EventBroadcaster struct {
	mu          sync.RWMutex
	connections map[string]*eventConnection
	closed      bool
}

type eventConnection struct {
	id        string
	conn      *websocket.Conn
	outbox    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *eventConnection) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{connections: make(map[string]*eventConnection)}
}

// Publish fans event out to every connected client. Non-blocking: a
// client whose outbox is full drops the event rather than stalling the
// engine thread that produced it.
func (b *EventBroadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.connections {
		select {
		case c.outbox <- event:
		default:
			log.Printf("adminserver: event connection %s outbox full, dropping event", c.id)
		}
	}
}

// Handle upgrades incoming requests to WebSocket connections and
// streams events to them until the client disconnects.
func (b *EventBroadcaster) Handle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("adminserver: failed to upgrade connection: %v", err)
			return
		}

		c := &eventConnection{
			id:     fmt.Sprintf("evt-%d", time.Now().UnixNano()),
			conn:   conn,
			outbox: make(chan Event, 64),
			done:   make(chan struct{}),
		}

		if !b.addConnection(c) {
			conn.Close()
			return
		}
		defer b.removeConnection(c)

		go b.readLoop(c)
		b.writeLoop(c)
	}
}

func (b *EventBroadcaster) addConnection(c *eventConnection) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.connections[c.id] = c
	return true
}

func (b *EventBroadcaster) removeConnection(c *eventConnection) {
	b.mu.Lock()
	delete(b.connections, c.id)
	b.mu.Unlock()
	c.markDone()
	c.conn.Close()
}

// readLoop discards control messages from the client, its only job
// being to notice disconnects promptly.
func (b *EventBroadcaster) readLoop(c *eventConnection) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.markDone()
			return
		}
	}
}

func (b *EventBroadcaster) writeLoop(c *eventConnection) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.done:
			return
		case event := <-c.outbox:
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every connected client. Safe to call once, at
// server shutdown.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*eventConnection, 0, len(b.connections))
	for _, c := range b.connections {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
}

// MarshalEvent is a convenience for tests and HTTP fallbacks that want
// the wire representation without opening a WebSocket.
func MarshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
