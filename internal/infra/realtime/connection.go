package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairchat/internal/domain/user"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer = 64
)

var (
	ErrConnectionClosed = errors.New("realtime: connection closed")
	ErrSendBufferFull   = errors.New("realtime: send buffer full")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Connection wraps a websocket. Writes go through a buffered channel drained
// by a single write loop; reads happen on the caller's goroutine.
type Connection struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
	onDrop func(event string)

	mu       sync.RWMutex
	userID   user.ID
	username string
}

func NewConnection(ws *websocket.Conn, sendBuffer int, maxMessageBytes int64) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if maxMessageBytes > 0 {
		ws.SetReadLimit(maxMessageBytes)
	}
	return &Connection{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() user.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) SetIdentity(id user.ID, username string) {
	c.mu.Lock()
	c.userID = id
	c.username = username
	c.mu.Unlock()
}

// Start launches the write loop and arms the read deadline. Call once.
func (c *Connection) Start() {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writeLoop()
}

// Next blocks for the next inbound frame.
func (c *Connection) Next() (Envelope, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &FrameError{Err: err}
	}
	return env, nil
}

// Emit encodes and enqueues an event.
func (c *Connection) Emit(event string, payload any) error {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	if err := c.Send(raw); err != nil {
		if c.onDrop != nil {
			c.onDrop(event)
		}
		return err
	}
	return nil
}

// Send enqueues an encoded frame. A slow client whose buffer is full gets
// disconnected so backpressure stays bounded.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close stops the write loop and closes the socket. Safe to call repeatedly.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}

// FrameError reports an inbound frame that is not a valid envelope. The
// connection stays usable.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string { return "realtime: malformed frame: " + e.Err.Error() }

func (e *FrameError) Unwrap() error { return e.Err }
