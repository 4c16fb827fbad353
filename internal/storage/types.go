package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBRoom struct {
	ID              string `msgpack:"roomId"`
	OtherUserID     string `msgpack:"otherUserId"`
	OtherUserName   string `msgpack:"otherUserName"`
	DealID          string `msgpack:"dealId"`
	DealTitle       string `msgpack:"dealTitle"`
	PharmacyID      string `msgpack:"pharmacyId"`
	PharmacyName    string `msgpack:"pharmacyName"`
	LastMessageText string `msgpack:"lastMessageText"`
	LastMessageAt   int64  `msgpack:"lastMessageAt"`
	UnreadCount     int    `msgpack:"unreadCount"`
	Closed          bool   `msgpack:"isClosed"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMessage struct {
	Seq            uint64 `msgpack:"seq"`
	ID             string `msgpack:"id"`
	ClientID       string `msgpack:"clientId"`
	RoomID         string `msgpack:"roomId"`
	SenderID       string `msgpack:"senderId"`
	Text           string `msgpack:"text"`
	SentAt         int64  `msgpack:"sentAt"`
	Status         string `msgpack:"status"`
	Own            bool   `msgpack:"isOwn"`
	AttachmentName string `msgpack:"attachmentName"`
	AttachmentMime string `msgpack:"attachmentMime"`
	AttachmentSize int64  `msgpack:"attachmentSize"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBDrugAlert struct {
	DrugName   string `msgpack:"drugName"`
	Message    string `msgpack:"message"`
	ReceivedAt int64  `msgpack:"receivedAt"`
}

func (a *DBDrugAlert) Key() []byte {
	key := make([]byte, 8, 8+len(a.DrugName))
	binary.BigEndian.PutUint64(key, uint64(a.ReceivedAt))
	return append(key, a.DrugName...)
}

func (a *DBDrugAlert) MarshalBinary() (data []byte, err error) {
	type alias DBDrugAlert
	return msgpack.Marshal((*alias)(a))
}

func (a *DBDrugAlert) UnmarshalBinary(data []byte) error {
	type alias DBDrugAlert
	return msgpack.Unmarshal(data, (*alias)(a))
}
