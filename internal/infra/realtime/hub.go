package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"pairchat/internal/app/session"
)

// Hub tracks live connections and the conversation rooms they joined. It
// holds routing state only; user bindings live in the store.
type Hub struct {
	Logger *slog.Logger
	// OnDrop is called with the event name whenever an emit is dropped.
	OnDrop func(event string)

	mu        sync.RWMutex
	conns     map[string]*Connection
	rooms     map[string]map[string]*Connection
	connRooms map[string]map[string]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		Logger:    logger,
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Register makes conn addressable and starts its write loop.
func (h *Hub) Register(conn *Connection) {
	conn.onDrop = h.OnDrop
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.connRooms[conn.ID()] = make(map[string]struct{})
	h.mu.Unlock()
	conn.Start()
}

// Unregister forgets conn and removes it from every room.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID())
	h.leaveAllLocked(conn.ID())
	delete(h.connRooms, conn.ID())
	h.mu.Unlock()
}

func (h *Hub) Lookup(connID string) (session.Conn, bool) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return conn, true
}

// Join subscribes a registered connection to room. Unknown ids are ignored.
func (h *Hub) Join(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[connID] = conn
	h.connRooms[connID][room] = struct{}{}
}

// LeaveAll removes the connection from every room it joined. The connection
// itself stays registered.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connRooms[connID]; !ok {
		return
	}
	h.leaveAllLocked(connID)
	h.connRooms[connID] = make(map[string]struct{})
}

func (h *Hub) InRoom(room string, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// EmitRoom sends event to every connection in room except exceptConnID and
// returns how many accepted it.
func (h *Hub) EmitRoom(room string, event string, payload any, exceptConnID string) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.rooms[room]))
	for id, conn := range h.rooms[room] {
		if id != exceptConnID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()
	return h.emit(targets, event, payload)
}

// EmitAll sends event to every registered connection, authenticated or not.
func (h *Hub) EmitAll(event string, payload any) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()
	return h.emit(targets, event, payload)
}

// Count reports how many connections are registered.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) emit(targets []*Connection, event string, payload any) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("encode frame failed", "event", event, "error", err)
		}
		return 0
	}
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			if h.OnDrop != nil {
				h.OnDrop(event)
			}
			if h.Logger != nil {
				h.Logger.Debug("emit dropped", "event", event, "conn_id", conn.ID(), "error", err)
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) leaveAllLocked(connID string) {
	for room := range h.connRooms[connID] {
		h.leaveLocked(room, connID)
	}
}

func (h *Hub) leaveLocked(room string, connID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

var _ session.Hub = (*Hub)(nil)
