package session

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"pharmadeal/internal/models"
	"pharmadeal/internal/socket"
	"pharmadeal/internal/storage"
)

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	mu       sync.Mutex
	emitted  []emitted
	handlers map[string][]socket.Handler
	emitErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string][]socket.Handler)}
}

func (f *fakeConn) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeConn) On(event string, fn socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
	return func() {}
}

// push delivers a server event to all registered handlers, the way the
// read pump would.
func (f *fakeConn) push(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal push payload: %v", err)
	}
	f.mu.Lock()
	handlers := append([]socket.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, len(f.emitted))
	for i, e := range f.emitted {
		events[i] = e.event
	}
	return events
}

func (f *fakeConn) lastEmit() (emitted, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emitted) == 0 {
		return emitted{}, false
	}
	return f.emitted[len(f.emitted)-1], true
}

func (f *fakeConn) emitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}

func newBoundStore(t *testing.T) (*Store, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	store := NewStore(conn, nil, "me")
	if err := store.Bind(); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	return store, conn
}

func pushRoom(t *testing.T, conn *fakeConn, roomID string, unread int) {
	t.Helper()
	conn.push(t, models.EventRoomUpdate, models.Room{
		ID:          roomID,
		OtherUser:   models.User{ID: "other-" + roomID, FullName: "Other " + roomID},
		UnreadCount: unread,
	})
}

func TestSendMessage_EmptyText(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)
	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}
	before := conn.emitCount()

	for _, text := range []string{"", "   ", "\n\t "} {
		if err := store.SendMessage(text); !errors.Is(err, models.ErrEmptyMessage) {
			t.Errorf("text %q: expected ErrEmptyMessage, got %v", text, err)
		}
	}
	if conn.emitCount() != before {
		t.Error("empty message produced a network event")
	}
}

func TestSendMessage_NoActiveRoom(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)

	if err := store.SendMessage("hello"); !errors.Is(err, models.ErrNoActiveRoom) {
		t.Errorf("expected ErrNoActiveRoom, got %v", err)
	}
	if len(conn.events()) != 0 {
		t.Errorf("expected no emissions, got %v", conn.events())
	}
}

func TestSendMessage_OptimisticAppendAndReconcile(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)
	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}

	if err := store.SendMessage("  hello there  "); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	msgs := store.Messages("room1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(msgs))
	}
	pending := msgs[0]
	if pending.Text != "hello there" {
		t.Errorf("text not trimmed: %q", pending.Text)
	}
	if pending.ClientID == "" {
		t.Error("pending message has no client ID")
	}
	if !pending.Own || pending.Status != models.MessageStatusSent {
		t.Errorf("wrong pending message state: %+v", pending)
	}

	last, ok := conn.lastEmit()
	if !ok || last.event != models.EventSendMessage {
		t.Fatalf("expected sendMessage emission, got %+v", last)
	}
	payload := last.payload.(models.SendMessagePayload)
	if payload.ClientID != pending.ClientID {
		t.Error("emission does not carry the client ID")
	}

	// Server echoes the message back with its own ID.
	conn.push(t, models.EventNewMessage, models.Message{
		ID:       "srv-1",
		ClientID: pending.ClientID,
		RoomID:   "room1",
		SenderID: "me",
		Text:     "hello there",
		SentAt:   1234,
	})

	msgs = store.Messages("room1")
	if len(msgs) != 1 {
		t.Fatalf("echo duplicated the message: %d messages", len(msgs))
	}
	if msgs[0].ID != "srv-1" {
		t.Errorf("pending message not replaced by echo: %+v", msgs[0])
	}
}

func TestSendMessage_ClosedRoom(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)
	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}

	conn.push(t, models.EventRoomClosed, models.RoomPayload{RoomID: "room1"})
	if !store.IsRoomClosed() {
		t.Fatal("room not marked closed")
	}

	before := conn.emitCount()
	if err := store.SendMessage("hello"); !errors.Is(err, models.ErrRoomClosed) {
		t.Errorf("expected ErrRoomClosed, got %v", err)
	}
	if conn.emitCount() != before {
		t.Error("closed-room send produced a network event")
	}
	if !errors.Is(store.Err(), models.ErrRoomClosed) {
		t.Error("error slot not set")
	}

	// History remains readable.
	_ = store.Messages("room1")

	// Closing the widget clears the closed-room error.
	store.CloseWidget()
	if store.Err() != nil {
		t.Error("closed-room error not cleared on widget close")
	}
}

func TestInboundMessage_UnreadCounting(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)
	pushRoom(t, conn, "room2", 0)
	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}

	// Message for the inactive room increments its counter by exactly 1.
	conn.push(t, models.EventNewMessage, models.Message{
		ID: "m1", RoomID: "room2", SenderID: "other-room2", Text: "hi",
	})
	room2, _ := store.Room("room2")
	if room2.UnreadCount != 1 {
		t.Errorf("expected unread 1 for inactive room, got %d", room2.UnreadCount)
	}

	// Message for the active room does not.
	conn.push(t, models.EventNewMessage, models.Message{
		ID: "m2", RoomID: "room1", SenderID: "other-room1", Text: "hi",
	})
	room1, _ := store.Room("room1")
	if room1.UnreadCount != 0 {
		t.Errorf("expected unread 0 for active room, got %d", room1.UnreadCount)
	}

	// Active-room message is acknowledged to the server.
	last, _ := conn.lastEmit()
	if last.event != models.EventMarkRoomAsSeen {
		t.Errorf("expected markRoomAsSeen after active-room message, got %q", last.event)
	}

	if got := store.TotalUnread(); got != 1 {
		t.Errorf("expected aggregate 1, got %d", got)
	}
}

func TestUnreadScenario(t *testing.T) {
	store, conn := newBoundStore(t)

	// Widget opens: three rooms with unread counts 2, 0, 1.
	store.OpenWidget()
	pushRoom(t, conn, "room1", 2)
	pushRoom(t, conn, "room2", 0)
	pushRoom(t, conn, "room3", 1)

	if got := store.TotalUnread(); got != 3 {
		t.Fatalf("expected aggregate 3, got %d", got)
	}

	// Selecting the room with 2 unread resets it.
	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}
	room1, _ := store.Room("room1")
	if room1.UnreadCount != 0 {
		t.Errorf("expected selected room unread 0, got %d", room1.UnreadCount)
	}
	if got := store.TotalUnread(); got != 1 {
		t.Errorf("expected aggregate 1, got %d", got)
	}

	// Server pushes a message for a different room.
	conn.push(t, models.EventNewMessage, models.Message{
		ID: "m1", RoomID: "room2", SenderID: "other-room2", Text: "ping",
	})
	room2, _ := store.Room("room2")
	if room2.UnreadCount != 1 {
		t.Errorf("expected room2 unread 1, got %d", room2.UnreadCount)
	}
	if got := store.TotalUnread(); got != 2 {
		t.Errorf("expected aggregate 2, got %d", got)
	}
}

func TestSelectRoom_SingleActiveKeepsHistory(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)
	pushRoom(t, conn, "room2", 0)

	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}
	conn.push(t, models.EventNewMessage, models.Message{
		ID: "m1", RoomID: "room1", SenderID: "other-room1", Text: "first",
	})

	if err := store.SelectRoom("room2"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}

	active, ok := store.ActiveRoom()
	if !ok || active.ID != "room2" {
		t.Errorf("expected active room2, got %+v", active)
	}
	room1, _ := store.Room("room1")
	if room1.State != models.RoomStateInactive {
		t.Errorf("expected room1 inactive, got %q", room1.State)
	}
	if msgs := store.Messages("room1"); len(msgs) != 1 {
		t.Errorf("previous room history cleared: %d messages", len(msgs))
	}

	// Selecting did not emit leaveRoom: leaving is explicit.
	for _, event := range conn.events() {
		if event == models.EventLeaveRoom {
			t.Error("selecting a room implicitly left the previous one")
		}
	}
}

func TestLeaveActive(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)
	if err := store.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}

	if err := store.LeaveActive(); err != nil {
		t.Fatalf("LeaveActive failed: %v", err)
	}
	last, _ := conn.lastEmit()
	if last.event != models.EventLeaveRoom {
		t.Errorf("expected leaveRoom emission, got %q", last.event)
	}
	if _, ok := store.ActiveRoom(); ok {
		t.Error("active room still set after leave")
	}

	// No active room: leaving again is a no-op.
	before := conn.emitCount()
	if err := store.LeaveActive(); err != nil {
		t.Errorf("second LeaveActive returned error: %v", err)
	}
	if conn.emitCount() != before {
		t.Error("second LeaveActive emitted")
	}
}

func TestStartChat(t *testing.T) {
	store, conn := newBoundStore(t)

	if err := store.StartChat("seller9", "deal42", "deal"); err != nil {
		t.Fatalf("StartChat failed: %v", err)
	}

	last, _ := conn.lastEmit()
	if last.event != models.EventStartChat {
		t.Fatalf("expected startChat, got %q", last.event)
	}
	payload := last.payload.(models.StartChatPayload)
	if payload.User1ID != "me" || payload.User2ID != "seller9" {
		t.Errorf("wrong participants: %+v", payload)
	}
	if payload.TargetID != "deal42" || payload.TargetType != "deal" {
		t.Errorf("wrong target: %+v", payload)
	}
}

func TestInboundMessage_Sanitized(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)

	conn.push(t, models.EventNewMessage, models.Message{
		ID: "m1", RoomID: "room1", SenderID: "other-room1",
		Text: `hi <script>alert("x")</script>there`,
	})

	msgs := store.Messages("room1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if got := msgs[0].Text; got != "hi there" {
		t.Errorf("text not sanitized: %q", got)
	}
}

func TestChatHistory_Replace(t *testing.T) {
	store, conn := newBoundStore(t)
	pushRoom(t, conn, "room1", 0)

	conn.push(t, models.EventNewMessage, models.Message{
		ID: "stale", RoomID: "room1", SenderID: "other-room1", Text: "stale",
	})
	conn.push(t, models.EventChatHistory, models.ChatHistoryPayload{
		RoomID: "room1",
		Messages: []models.Message{
			{ID: "h1", SenderID: "other-room1", Text: "one"},
			{ID: "h2", SenderID: "me", Text: "two"},
		},
	})

	msgs := store.Messages("room1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after history push, got %d", len(msgs))
	}
	if msgs[0].ID != "h1" || msgs[1].ID != "h2" {
		t.Errorf("wrong order: %+v", msgs)
	}
	if msgs[0].Own || !msgs[1].Own {
		t.Error("ownership flags not derived from sender")
	}
}

func TestErrSlot(t *testing.T) {
	store, conn := newBoundStore(t)
	conn.emitErr = errors.New("socket gone")

	if err := store.StartChat("other", "", ""); err == nil {
		t.Fatal("expected emit error")
	}
	if store.Err() == nil {
		t.Fatal("error slot not set")
	}

	// Errors never clear themselves.
	if store.Err() == nil {
		t.Error("error slot cleared spontaneously")
	}
	store.ClearErr()
	if store.Err() != nil {
		t.Error("ClearErr did not clear the slot")
	}
}

func TestStore_CachePersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	cache, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	defer func() { _ = cache.Close() }()

	conn := newFakeConn()
	store := NewStore(conn, cache, "me")
	if err := store.Bind(); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	pushRoom(t, conn, "room1", 0)
	conn.push(t, models.EventNewMessage, models.Message{
		ID: "m1", RoomID: "room1", SenderID: "other-room1", Text: "cached",
	})

	// A fresh store over the same file sees the cached state.
	conn2 := newFakeConn()
	store2 := NewStore(conn2, cache, "me")
	if err := store2.Bind(); err != nil {
		t.Fatalf("second Bind failed: %v", err)
	}
	if len(store2.Rooms()) != 1 {
		t.Fatalf("cached rooms not loaded: %d", len(store2.Rooms()))
	}
	if err := store2.SelectRoom("room1"); err != nil {
		t.Fatalf("SelectRoom failed: %v", err)
	}
	msgs := store2.Messages("room1")
	if len(msgs) != 1 || msgs[0].Text != "cached" {
		t.Errorf("cached history not loaded: %+v", msgs)
	}
}
