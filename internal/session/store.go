package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pharmadeal/internal/content"
	"pharmadeal/internal/models"
	"pharmadeal/internal/socket"

	"github.com/google/uuid"
)

type connection interface {
	Emit(event string, payload any) error
	On(event string, fn socket.Handler) func()
}

// Cache mirrors rooms and message history locally so a fresh process
// can show cached state before the server pushes.
type Cache interface {
	UpsertRoom(room models.Room) error
	ListRooms() ([]models.Room, error)
	AppendMessage(msg models.Message) error
	ReplaceMessages(roomID string, msgs []models.Message) error
	ListMessages(roomID string) ([]models.Message, error)
}

// Store is the single source of truth for chat state: the room list,
// per-room message history in arrival order, the active room, unread
// counters and the widget flag. Inbound connection events and caller
// actions both funnel through the same mutex, so messages are applied
// in the order they arrive.
type Store struct {
	conn   connection
	cache  Cache
	userID string

	mu         sync.Mutex
	rooms      map[string]*models.Room
	messages   map[string][]models.Message
	activeID   string
	widgetOpen bool
	lastErr    error
	unsubs     []func()
}

func NewStore(conn connection, cache Cache, userID string) *Store {
	return &Store{
		conn:     conn,
		cache:    cache,
		userID:   userID,
		rooms:    make(map[string]*models.Room),
		messages: make(map[string][]models.Message),
	}
}

// Bind loads cached state and subscribes to server-pushed events.
func (s *Store) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		rooms, err := s.cache.ListRooms()
		if err != nil {
			return fmt.Errorf("failed to load cached rooms: %w", err)
		}
		for _, room := range rooms {
			r := room
			s.rooms[r.ID] = &r
		}
	}

	s.unsubs = append(s.unsubs,
		s.conn.On(models.EventNewMessage, s.handleNewMessage),
		s.conn.On(models.EventRoomUpdate, s.handleRoomUpdate),
		s.conn.On(models.EventRoomClosed, s.handleRoomClosed),
		s.conn.On(models.EventChatHistory, s.handleChatHistory),
	)
	return nil
}

// Unbind removes the store's event subscriptions.
func (s *Store) Unbind() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// StartChat asks the server to open (or resume) a room with another
// user, optionally attached to a deal or pharmacy listing. The server
// answers with a roomUpdate push.
func (s *Store) StartChat(otherUserID, targetID, targetType string) error {
	err := s.conn.Emit(models.EventStartChat, models.StartChatPayload{
		User1ID:    s.userID,
		User2ID:    otherUserID,
		TargetID:   targetID,
		TargetType: targetType,
	})
	if err != nil {
		s.setErr(err)
	}
	return err
}

// SelectRoom marks a room active, joins it on the server and loads its
// history. Selecting a new room does not leave the previous one;
// leaving is a separate explicit action.
func (s *Store) SelectRoom(roomID string) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}

	if prev, ok := s.rooms[s.activeID]; ok && s.activeID != roomID {
		if prev.State == models.RoomStateActive {
			prev.State = models.RoomStateInactive
		}
	}

	s.activeID = roomID
	if room.State != models.RoomStateClosed {
		room.State = models.RoomStateActive
	}
	room.UnreadCount = 0

	if _, loaded := s.messages[roomID]; !loaded && s.cache != nil {
		history, err := s.cache.ListMessages(roomID)
		if err != nil {
			slog.Error("failed to load cached history", "room_id", roomID, "error", err)
		} else if len(history) > 0 {
			s.messages[roomID] = history
		}
	}
	s.persistRoom(*room)
	s.mu.Unlock()

	if err := s.conn.Emit(models.EventJoinRoom, models.RoomPayload{RoomID: roomID, UserID: s.userID}); err != nil {
		s.setErr(err)
		return err
	}
	// The room no longer counts as unread once it is on screen.
	return s.conn.Emit(models.EventMarkRoomAsSeen, models.RoomPayload{RoomID: roomID, UserID: s.userID})
}

// LeaveActive tells the server to stop counting the user present in
// the active room and deactivates it locally.
func (s *Store) LeaveActive() error {
	s.mu.Lock()
	roomID := s.activeID
	if roomID == "" {
		s.mu.Unlock()
		return nil
	}
	if room, ok := s.rooms[roomID]; ok && room.State == models.RoomStateActive {
		room.State = models.RoomStateInactive
	}
	s.activeID = ""
	s.mu.Unlock()

	return s.conn.Emit(models.EventLeaveRoom, models.RoomPayload{RoomID: roomID, UserID: s.userID})
}

// SendMessage validates and sends text to the active room. The message
// is appended optimistically with a client-generated ID; the server
// echo carrying the same clientId replaces it in place.
func (s *Store) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ErrEmptyMessage
	}

	s.mu.Lock()
	room, ok := s.rooms[s.activeID]
	if !ok {
		s.mu.Unlock()
		return models.ErrNoActiveRoom
	}
	if room.Closed {
		s.lastErr = models.ErrRoomClosed
		s.mu.Unlock()
		return models.ErrRoomClosed
	}

	msg := models.Message{
		ClientID: uuid.NewString(),
		RoomID:   room.ID,
		SenderID: s.userID,
		Text:     text,
		SentAt:   time.Now().UnixMilli(),
		Status:   models.MessageStatusSent,
		Own:      true,
	}
	s.messages[room.ID] = append(s.messages[room.ID], msg)
	room.LastMessage = &models.MessageSummary{Text: text, SentAt: msg.SentAt}
	s.mu.Unlock()

	err := s.conn.Emit(models.EventSendMessage, models.SendMessagePayload{
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Text:     msg.Text,
		ClientID: msg.ClientID,
	})
	if err != nil {
		s.setErr(err)
	}
	return err
}

// SendAttachment sends a file from disk to the active room, detecting
// its MIME type by content. Same active/closed-room rules as
// SendMessage.
func (s *Store) SendAttachment(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		s.setErr(err)
		return err
	}
	mime, ok := content.SniffAttachment(data)
	if !ok {
		err := fmt.Errorf("unsupported attachment type: %s", filepath.Base(path))
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	room, roomOK := s.rooms[s.activeID]
	if !roomOK {
		s.mu.Unlock()
		return models.ErrNoActiveRoom
	}
	if room.Closed {
		s.lastErr = models.ErrRoomClosed
		s.mu.Unlock()
		return models.ErrRoomClosed
	}

	attachment := &models.Attachment{
		Name:     filepath.Base(path),
		MimeType: mime,
		Size:     int64(len(data)),
	}
	msg := models.Message{
		ClientID:   uuid.NewString(),
		RoomID:     room.ID,
		SenderID:   s.userID,
		SentAt:     time.Now().UnixMilli(),
		Status:     models.MessageStatusSent,
		Own:        true,
		Attachment: attachment,
	}
	s.messages[room.ID] = append(s.messages[room.ID], msg)
	s.mu.Unlock()

	err = s.conn.Emit(models.EventSendMessage, models.SendMessagePayload{
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		ClientID:   msg.ClientID,
		Attachment: attachment,
	})
	if err != nil {
		s.setErr(err)
	}
	return err
}

// MarkRoomSeen resets a room's unread counter and tells the server.
func (s *Store) MarkRoomSeen(roomID string) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return models.ErrNotFound
	}
	room.UnreadCount = 0
	s.persistRoom(*room)
	s.mu.Unlock()

	return s.conn.Emit(models.EventMarkRoomAsSeen, models.RoomPayload{RoomID: roomID, UserID: s.userID})
}

// OpenWidget shows the chat interface.
func (s *Store) OpenWidget() {
	s.mu.Lock()
	s.widgetOpen = true
	s.mu.Unlock()
}

// CloseWidget hides the chat interface, leaves the active room and
// drops any closed-room error so reopening starts clean.
func (s *Store) CloseWidget() {
	s.mu.Lock()
	s.widgetOpen = false
	if s.lastErr == models.ErrRoomClosed {
		s.lastErr = nil
	}
	s.mu.Unlock()

	if err := s.LeaveActive(); err != nil {
		slog.Error("failed to leave room on widget close", "error", err)
	}
}

func (s *Store) WidgetOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.widgetOpen
}

// Rooms returns a snapshot of all rooms, most recent activity first.
func (s *Store) Rooms() []models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, *room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return lastActivity(rooms[i]) > lastActivity(rooms[j])
	})
	return rooms
}

// Room returns a snapshot of one room.
func (s *Store) Room(roomID string) (models.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, false
	}
	return *room, true
}

// ActiveRoom returns the currently selected room, if any.
func (s *Store) ActiveRoom() (models.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[s.activeID]
	if !ok {
		return models.Room{}, false
	}
	return *room, true
}

// IsRoomClosed reports whether the active room no longer accepts new
// messages.
func (s *Store) IsRoomClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[s.activeID]
	return ok && room.Closed
}

// Messages returns a snapshot of a room's history in display order.
func (s *Store) Messages(roomID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.messages[roomID]))
	copy(msgs, s.messages[roomID])
	return msgs
}

// TotalUnread is the sum of per-room unread counters.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, room := range s.rooms {
		total += room.UnreadCount
	}
	return total
}

// Err returns the last operation error. It is never cleared
// automatically.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) ClearErr() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) handleNewMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("bad newMessage payload", "error", err)
		return
	}
	msg.Text = content.Sanitize(msg.Text)
	msg.Own = msg.SenderID == s.userID

	s.mu.Lock()
	room, ok := s.rooms[msg.RoomID]
	if !ok {
		// Room created server-side; reflect it.
		room = &models.Room{ID: msg.RoomID, State: models.RoomStateUnseen}
		s.rooms[msg.RoomID] = room
	}

	if msg.Own && msg.ClientID != "" && s.reconcile(&msg) {
		room.LastMessage = &models.MessageSummary{Text: msg.Text, SentAt: msg.SentAt}
		s.persistHistory(msg.RoomID)
		s.mu.Unlock()
		return
	}

	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)
	room.LastMessage = &models.MessageSummary{Text: msg.Text, SentAt: msg.SentAt}

	active := msg.RoomID == s.activeID
	if !active && !msg.Own {
		room.UnreadCount++
	}
	s.persistRoom(*room)
	if s.cache != nil {
		if err := s.cache.AppendMessage(msg); err != nil {
			slog.Error("failed to cache message", "room_id", msg.RoomID, "error", err)
		}
	}
	s.mu.Unlock()

	if active && !msg.Own {
		// Message landed on screen; the server should not count it unread.
		if err := s.conn.Emit(models.EventMarkRoomAsSeen, models.RoomPayload{RoomID: msg.RoomID, UserID: s.userID}); err != nil {
			slog.Error("failed to mark room as seen", "room_id", msg.RoomID, "error", err)
		}
	}
}

// reconcile replaces the optimistically appended pending message whose
// clientId matches the echo. Reports whether a replacement happened.
// Caller holds the mutex.
func (s *Store) reconcile(msg *models.Message) bool {
	msgs := s.messages[msg.RoomID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ClientID == msg.ClientID && msgs[i].ID == "" {
			msgs[i] = *msg
			return true
		}
	}
	return false
}

func (s *Store) handleRoomUpdate(data json.RawMessage) {
	var update models.Room
	if err := json.Unmarshal(data, &update); err != nil {
		slog.Error("bad roomUpdate payload", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[update.ID]
	if !ok {
		update.State = models.RoomStateUnseen
		if update.Closed {
			update.State = models.RoomStateClosed
		}
		s.rooms[update.ID] = &update
		s.persistRoom(update)
		return
	}

	room.OtherUser = update.OtherUser
	room.Deal = update.Deal
	room.Pharmacy = update.Pharmacy
	if update.LastMessage != nil {
		room.LastMessage = update.LastMessage
	}
	if update.ID != s.activeID {
		room.UnreadCount = update.UnreadCount
	}
	if update.Closed {
		room.Closed = true
		room.State = models.RoomStateClosed
	}
	s.persistRoom(*room)
}

func (s *Store) handleRoomClosed(data json.RawMessage) {
	var payload models.RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad roomClosed payload", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[payload.RoomID]
	if !ok {
		return
	}
	room.Closed = true
	room.State = models.RoomStateClosed
	s.persistRoom(*room)
}

func (s *Store) handleChatHistory(data json.RawMessage) {
	var payload models.ChatHistoryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("bad chatHistory payload", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]models.Message, 0, len(payload.Messages))
	for _, msg := range payload.Messages {
		msg.RoomID = payload.RoomID
		msg.Text = content.Sanitize(msg.Text)
		msg.Own = msg.SenderID == s.userID
		msgs = append(msgs, msg)
	}
	s.messages[payload.RoomID] = msgs
	if s.cache != nil {
		if err := s.cache.ReplaceMessages(payload.RoomID, msgs); err != nil {
			slog.Error("failed to cache history", "room_id", payload.RoomID, "error", err)
		}
	}
}

// persistRoom mirrors room metadata to the cache. Caller holds the
// mutex.
func (s *Store) persistRoom(room models.Room) {
	if s.cache == nil {
		return
	}
	if err := s.cache.UpsertRoom(room); err != nil {
		slog.Error("failed to cache room", "room_id", room.ID, "error", err)
	}
}

// persistHistory rewrites a room's cached history. Caller holds the
// mutex.
func (s *Store) persistHistory(roomID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ReplaceMessages(roomID, s.messages[roomID]); err != nil {
		slog.Error("failed to cache history", "room_id", roomID, "error", err)
	}
}

func lastActivity(room models.Room) int64 {
	if room.LastMessage == nil {
		return 0
	}
	return room.LastMessage.SentAt
}
