// Package sessiontest provides in-memory connections and a hub for tests of
// the messaging services.
package sessiontest

import (
	"sync"

	"pairchat/internal/app/session"
	"pairchat/internal/domain/user"
)

type Event struct {
	Name    string
	Payload any
}

// Conn records every emitted event.
type Conn struct {
	id string

	mu       sync.Mutex
	userID   user.ID
	username string
	events   []Event
	fail     error
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() user.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Conn) SetIdentity(id user.ID, username string) {
	c.mu.Lock()
	c.userID = id
	c.username = username
	c.mu.Unlock()
}

func (c *Conn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.events = append(c.events, Event{Name: event, Payload: payload})
	return nil
}

// FailWith makes every later Emit return err.
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

// Events returns the recorded events named name, oldest first. An empty name
// returns all of them.
func (c *Conn) Events(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if name == "" || ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event named name.
func (c *Conn) Last(name string) (Event, bool) {
	events := c.Events(name)
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// Hub is a session.Hub over Conn values.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
	rooms map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Add(conns ...*Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range conns {
		h.conns[c.ID()] = c
	}
}

func (h *Hub) Remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID())
	for _, members := range h.rooms {
		delete(members, c.ID())
	}
}

func (h *Hub) Lookup(connID string) (session.Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return c, true
}

func (h *Hub) Join(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
}

func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) InRoom(room string, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[room][connID]
	return ok
}

func (h *Hub) EmitRoom(room string, event string, payload any, exceptConnID string) int {
	h.mu.Lock()
	var targets []*Conn
	for id := range h.rooms[room] {
		if id != exceptConnID {
			targets = append(targets, h.conns[id])
		}
	}
	h.mu.Unlock()
	return emit(targets, event, payload)
}

func (h *Hub) EmitAll(event string, payload any) int {
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	return emit(targets, event, payload)
}

func emit(targets []*Conn, event string, payload any) int {
	delivered := 0
	for _, c := range targets {
		if c.Emit(event, payload) == nil {
			delivered++
		}
	}
	return delivered
}

var (
	_ session.Conn = (*Conn)(nil)
	_ session.Hub  = (*Hub)(nil)
)
