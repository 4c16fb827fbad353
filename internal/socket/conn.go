package socket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"pharmadeal/internal/models"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Handler receives the raw payload of a server-pushed event.
type Handler func(data json.RawMessage)

type wsConn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Frame is the wire format for both directions: a named event with a
// structured payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type subscription struct {
	id uint64
	fn Handler
}

// Conn is a single persistent connection to the messaging server.
// Inbound frames are dispatched to every handler registered for the
// frame's event name.
type Conn struct {
	ws     wsConn
	userID string

	mu       sync.RWMutex
	state    State
	handlers map[string][]subscription
	nextID   uint64

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws wsConn, userID string) *Conn {
	return &Conn{
		ws:       ws,
		userID:   userID,
		state:    StateConnecting,
		handlers: make(map[string][]subscription),
		done:     make(chan struct{}),
	}
}

func (c *Conn) UserID() string {
	return c.userID
}

func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Done is closed when the connection stops reading, either because it
// was closed locally or because the read pump failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Emit sends a named event with a structured payload. Fire and forget:
// no acknowledgement or retry at this layer.
func (c *Conn) Emit(event string, payload any) error {
	if c.State() != StateConnected {
		return models.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(Frame{Event: event, Data: data})
}

// On registers a handler for a server-pushed event. Multiple handlers
// may coexist per event name; each one receives every frame. The
// returned function unsubscribes that single handler.
func (c *Conn) On(event string, fn Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[event]
		for i, sub := range subs {
			if sub.id == id {
				c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Off removes every handler registered for the event.
func (c *Conn) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Close tears the connection down. A later Manager.Get dials a fresh one.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		err = c.ws.Close()
		close(c.done)
	})
	return err
}

// run reads frames until the connection dies and dispatches each one.
// Read errors are logged, not surfaced: there is no reconnection policy
// at this layer.
func (c *Conn) run() {
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if c.State() != StateDisconnected {
				c.setState(StateError)
				slog.Error("socket read failed", "user_id", c.userID, "error", err)
			}
			c.closeOnce.Do(func() {
				_ = c.ws.Close()
				close(c.done)
			})
			return
		}
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame Frame) {
	c.mu.RLock()
	subs := make([]subscription, len(c.handlers[frame.Event]))
	copy(subs, c.handlers[frame.Event])
	c.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(frame.Data)
	}
}

// Convenience emitters for the fixed outbound event set.

func (c *Conn) StartChat(user1ID, user2ID, targetID, targetType string) error {
	return c.Emit(models.EventStartChat, models.StartChatPayload{
		User1ID:    user1ID,
		User2ID:    user2ID,
		TargetID:   targetID,
		TargetType: targetType,
	})
}

func (c *Conn) JoinRoom(roomID, userID string) error {
	return c.Emit(models.EventJoinRoom, models.RoomPayload{RoomID: roomID, UserID: userID})
}

func (c *Conn) LeaveRoom(roomID, userID string) error {
	return c.Emit(models.EventLeaveRoom, models.RoomPayload{RoomID: roomID, UserID: userID})
}

func (c *Conn) MarkRoomAsSeen(roomID, userID string) error {
	return c.Emit(models.EventMarkRoomAsSeen, models.RoomPayload{RoomID: roomID, UserID: userID})
}
