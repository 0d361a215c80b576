package communication

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one message on the live event stream.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventChatReply     = "CHAT_REPLY"
	EventChatRejected  = "CHAT_REJECTED"
	EventRateLimited   = "RATE_LIMITED"
	EventAgentViewed   = "AGENT_VIEWED"
	EventCronCompleted = "CRON_COMPLETED"
)

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(eventType string, payload interface{})
}

const (
	broadcastBuffer = 64
	// writeWait bounds each write so one stalled client cannot hold up the
	// broadcast loop for long.
	writeWait = 5 * time.Second
)

// WebSocketManager fans events out to connected websocket clients.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	writeWait  time.Duration
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewWSManager returns a manager; call Run to start delivering.
func NewWSManager(logger *zap.Logger) *WebSocketManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		writeWait:  writeWait,
		logger:     logger,
	}
}

// Run delivers events until ctx is done, then closes every client.
func (manager *WebSocketManager) Run(ctx context.Context) {
	defer close(manager.done)
	for {
		select {
		case <-ctx.Done():
			manager.mu.Lock()
			for client := range manager.clients {
				client.Close()
				delete(manager.clients, client)
			}
			manager.mu.Unlock()
			return

		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client] = true
			manager.mu.Unlock()

		case client := <-manager.unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[client]; ok {
				delete(manager.clients, client)
				client.Close()
			}
			manager.mu.Unlock()

		case event := <-manager.broadcast:
			manager.deliver(event)
		}
	}
}

// deliver writes event to every client, dropping those that fail or stall
// past the write deadline. Only Run writes, so the lock guards the map alone.
func (manager *WebSocketManager) deliver(event Event) {
	manager.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(manager.clients))
	for client := range manager.clients {
		clients = append(clients, client)
	}
	manager.mu.RUnlock()

	for _, client := range clients {
		err := client.SetWriteDeadline(time.Now().Add(manager.writeWait))
		if err == nil {
			err = client.WriteJSON(event)
		}
		if err != nil {
			manager.logger.Debug("websocket write failed, dropping client", zap.Error(err))
			client.Close()
			manager.mu.Lock()
			delete(manager.clients, client)
			manager.mu.Unlock()
		}
	}
}

// Emit queues an event for broadcast. When the queue is full the event is
// dropped; chat requests never wait on slow websocket clients.
func (manager *WebSocketManager) Emit(eventType string, payload interface{}) {
	select {
	case manager.broadcast <- Event{Type: eventType, Payload: payload}:
	default:
		manager.logger.Warn("websocket broadcast queue full, dropping event", zap.String("type", eventType))
	}
}

// ClientCount reports how many clients are connected.
func (manager *WebSocketManager) ClientCount() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

// Register adds a client. It reports false, and closes conn, once the
// manager has stopped.
func (manager *WebSocketManager) Register(conn *websocket.Conn) bool {
	select {
	case manager.register <- conn:
		return true
	case <-manager.done:
		conn.Close()
		return false
	}
}

// Unregister removes and closes a client.
func (manager *WebSocketManager) Unregister(conn *websocket.Conn) {
	select {
	case manager.unregister <- conn:
	case <-manager.done:
	}
}

// Serve registers conn and reads from it until the peer goes away. Clients
// only listen; anything they send is discarded.
func (manager *WebSocketManager) Serve(conn *websocket.Conn) {
	if !manager.Register(conn) {
		return
	}
	defer manager.Unregister(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Fanout emits every event to each of its emitters.
type Fanout []Emitter

func (f Fanout) Emit(eventType string, payload interface{}) {
	for _, e := range f {
		if e != nil {
			e.Emit(eventType, payload)
		}
	}
}
