package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
)

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeStatus      = "status"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64

	authorizeTimeout = 5 * time.Second
)

// SubscriptionAuthorizer decides whether an actor may follow a project's
// events.
type SubscriptionAuthorizer interface {
	CanSubscribe(ctx context.Context, actor auth.Actor, projectID string) bool
}

// AuthorizerFunc adapts a function to SubscriptionAuthorizer.
type AuthorizerFunc func(ctx context.Context, actor auth.Actor, projectID string) bool

func (f AuthorizerFunc) CanSubscribe(ctx context.Context, actor auth.Actor, projectID string) bool {
	return f(ctx, actor, projectID)
}

// Message is the envelope exchanged with clients.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Payload   any            `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   string         `json:"channel,omitempty"`
	Target    string         `json:"target,omitempty"`
}

// Manager handles WebSocket connections and per-project event fan-out
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	upgrader    websocket.Upgrader
	authorizer  SubscriptionAuthorizer
	logger      *zap.Logger
	closed      bool
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID     string
	UserID string
	Actor  auth.Actor

	conn     *websocket.Conn
	send     chan Message
	mu       sync.Mutex
	projects map[string]bool
	closed   bool
	once     sync.Once
}

// NewManager creates a new WebSocket manager. Subscriptions the authorizer
// refuses are dropped; a nil authorizer refuses all of them.
func NewManager(authorizer SubscriptionAuthorizer, logger *zap.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		authorizer:  authorizer,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleConnection upgrades the request and serves the connection until
// the client goes away.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, actor auth.Actor) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.New("websocket manager closed")
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:       uuid.NewString(),
		UserID:   actor.ID,
		Actor:    actor,
		conn:     ws,
		send:     make(chan Message, sendBuffer),
		projects: make(map[string]bool),
	}

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()
	m.logger.Debug("Websocket connected", zap.String("connection_id", conn.ID), zap.String("user_id", actor.ID))

	go m.writePump(conn)
	go m.readPump(conn)
	return nil
}

func (m *Manager) remove(conn *Connection) {
	conn.once.Do(func() {
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()

		conn.mu.Lock()
		conn.closed = true
		close(conn.send)
		conn.mu.Unlock()
		m.logger.Debug("Websocket disconnected", zap.String("connection_id", conn.ID))
	})
}

// readPump handles subscription requests from the client
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.remove(conn)
		conn.conn.Close()
	}()

	conn.conn.SetReadLimit(4096)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("Websocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		m.handleMessage(conn, &msg)
	}
}

// writePump pumps queued messages and keepalive pings to the client
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleMessage(conn *Connection, msg *Message) {
	switch msg.Type {
	case TypeSubscribe, TypeUnsubscribe:
		ids := projectIDs(msg.Data)
		if msg.Type == TypeSubscribe {
			ids = m.permitted(conn, ids)
		}
		conn.mu.Lock()
		for _, id := range ids {
			if msg.Type == TypeSubscribe {
				conn.projects[id] = true
			} else {
				delete(conn.projects, id)
			}
		}
		subscribed := make([]string, 0, len(conn.projects))
		for id := range conn.projects {
			subscribed = append(subscribed, id)
		}
		conn.mu.Unlock()

		m.enqueue(conn, Message{
			Type:      TypeStatus,
			Data:      map[string]any{"connection_id": conn.ID, "project_ids": subscribed},
			Timestamp: time.Now().UTC(),
			Channel:   "private",
			Target:    conn.UserID,
		})
	default:
		m.logger.Debug("Unknown websocket message type", zap.String("type", msg.Type))
	}
}

func (m *Manager) permitted(conn *Connection, ids []string) []string {
	if m.authorizer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()

	allowed := ids[:0]
	for _, id := range ids {
		if m.authorizer.CanSubscribe(ctx, conn.Actor, id) {
			allowed = append(allowed, id)
			continue
		}
		m.logger.Debug("Websocket subscription refused",
			zap.String("connection_id", conn.ID),
			zap.String("user_id", conn.UserID),
			zap.String("project_id", id))
	}
	return allowed
}

func projectIDs(data map[string]any) []string {
	raw, ok := data["project_ids"].([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}

// enqueue drops the message when the client is too slow to keep up.
func (m *Manager) enqueue(conn *Connection, msg Message) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return false
	}
	select {
	case conn.send <- msg:
		return true
	default:
		m.logger.Warn("Websocket buffer full, dropping message", zap.String("connection_id", conn.ID))
		return false
	}
}

// Publish sends an event to every connection subscribed to projectID and
// returns how many received it.
func (m *Manager) Publish(projectID, event string, payload any) int {
	msg := Message{
		Type:      event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Channel:   "project",
		Target:    projectID,
	}

	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conn.mu.Lock()
		if conn.projects[projectID] {
			targets = append(targets, conn)
		}
		conn.mu.Unlock()
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range targets {
		if m.enqueue(conn, msg) {
			sent++
		}
	}
	return sent
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close disconnects every client and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.conn.Close()
	}
}
