package models

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("not connected")
	ErrNoActiveRoom = errors.New("no active room")
	ErrEmptyMessage = errors.New("message is empty")
	ErrRoomClosed   = errors.New("room is closed")
)

// Event names are part of the wire contract with the marketplace
// server and must not be renamed.
const (
	EventStartChat      = "startChat"
	EventSendMessage    = "sendMessage"
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventMarkRoomAsSeen = "markRoomAsSeen"

	EventNewMessage  = "newMessage"
	EventRoomUpdate  = "roomUpdate"
	EventRoomClosed  = "roomClosed"
	EventChatHistory = "chatHistory"
	EventDrugAlert   = "drug-alert"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusRead MessageStatus = "read"
)

// RoomState is the client-side lifecycle of a room. Closed is
// server-driven and terminal.
type RoomState string

const (
	RoomStateUnseen   RoomState = "unseen"
	RoomStateActive   RoomState = "active"
	RoomStateInactive RoomState = "inactive"
	RoomStateClosed   RoomState = "closed"
)

// User represents a chat participant.
type User struct {
	ID              string `json:"id"`
	FullName        string `json:"fullName"`
	ProfilePhotoURL string `json:"profilePhotoUrl,omitempty"`
	Online          bool   `json:"isOnline"`
}

// DealRef is the deal a room is attached to.
type DealRef struct {
	ID           string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	MedicineName string  `json:"medicineName,omitempty"`
	Price        float64 `json:"price,omitempty"`
}

// PharmacyRef is the pharmacy listing a room is attached to.
type PharmacyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city,omitempty"`
}

type MessageSummary struct {
	Text   string `json:"text"`
	SentAt int64  `json:"sentAt"` // Unix timestamp (milliseconds)
}

// Room is a server-defined conversation between two participants,
// optionally associated with a deal or a pharmacy listing.
type Room struct {
	ID          string          `json:"roomId"`
	OtherUser   User            `json:"otherUser"`
	Deal        *DealRef        `json:"deal,omitempty"`
	Pharmacy    *PharmacyRef    `json:"pharmacy,omitempty"`
	LastMessage *MessageSummary `json:"lastMessage,omitempty"`
	UnreadCount int             `json:"unreadCount"`
	Closed      bool            `json:"isClosed"`

	// State is tracked locally and never sent on the wire.
	State RoomState `json:"-"`
}

// Message is a single chat message. ClientID is generated locally for
// optimistic sends and echoed back by the server so the pending copy
// can be reconciled with the confirmed one.
type Message struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"clientId,omitempty"`
	RoomID     string        `json:"roomId"`
	SenderID   string        `json:"senderId"`
	Text       string        `json:"text"`
	SentAt     int64         `json:"sentAt"` // Unix timestamp (milliseconds)
	Status     MessageStatus `json:"status"`
	Own        bool          `json:"isOwn"`
	Attachment *Attachment   `json:"attachment,omitempty"`
}

type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// StartChatPayload opens (or resumes) a room between two users,
// optionally pointing at a deal or pharmacy listing.
type StartChatPayload struct {
	User1ID    string `json:"user1Id"`
	User2ID    string `json:"user2Id"`
	TargetID   string `json:"targetId,omitempty"`
	TargetType string `json:"targetType,omitempty"`
}

type SendMessagePayload struct {
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	Text       string      `json:"text"`
	ClientID   string      `json:"clientId,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// RoomPayload is shared by joinRoom, leaveRoom and markRoomAsSeen.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ChatHistoryPayload struct {
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

// DrugAlert is a server push keyed by drug name.
type DrugAlert struct {
	DrugName   string `json:"drugName"`
	Message    string `json:"message"`
	ReceivedAt int64  `json:"receivedAt,omitempty"` // set locally on receipt
}

// Deal is a medicine deal listing.
type Deal struct {
	ID           string  `json:"id,omitempty"`
	Title        string  `json:"title"`
	MedicineName string  `json:"medicineName"`
	Description  string  `json:"description,omitempty"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity,omitempty"`
	ExpiryDate   string  `json:"expiryDate,omitempty"`
	IsClosed     bool    `json:"isClosed"`
	OwnerID      string  `json:"ownerId,omitempty"`
	CreatedAt    string  `json:"createdAt,omitempty"`
}

// Pharmacy is a pharmacy-for-sale listing.
type Pharmacy struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	City       string  `json:"city,omitempty"`
	Address    string  `json:"address,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Advertiser User    `json:"advertiser,omitempty"`
}

type Drug struct {
	ID       string `json:"id"`
	DrugName string `json:"drugName"`
}
