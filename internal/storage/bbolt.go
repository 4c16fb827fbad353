package storage

import (
	"fmt"
	"time"

	"pharmadeal/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketIdentity   = []byte("identity")
	bucketRooms      = []byte("rooms")
	bucketMessages   = []byte("messages")
	bucketDrugAlerts = []byte("drug_alerts")

	identityKey = []byte("userId")
)

// Store is the local bbolt-backed state: the persisted identity used to
// authenticate the socket connection, cached rooms and message history,
// and the log of received drug alerts.
type Store struct {
	db *bbolt.DB
}

func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketIdentity, bucketRooms, bucketMessages, bucketDrugAlerts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveIdentity persists the local user ID.
func (s *Store) SaveIdentity(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(identityKey, []byte(userID))
	})
}

// Identity returns the persisted local user ID, or ErrNotFound when no
// identity has been saved yet.
func (s *Store) Identity() (string, error) {
	var userID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(identityKey)
		if data == nil {
			return models.ErrNotFound
		}
		userID = string(data)
		return nil
	})
	return userID, err
}

// UpsertRoom saves room metadata to the local cache.
func (s *Store) UpsertRoom(room models.Room) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbRoom := roomToDB(room)
		data, err := dbRoom.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRooms).Put(dbRoom.Key(), data)
	})
}

// ListRooms returns all cached rooms.
func (s *Store) ListRooms() ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRooms).ForEach(func(k, v []byte) error {
			var dbRoom DBRoom
			if err := dbRoom.UnmarshalBinary(v); err != nil {
				return err
			}
			rooms = append(rooms, roomFromDB(dbRoom))
			return nil
		})
	})
	return rooms, err
}

// AppendMessage adds a message to a room's cached history in arrival
// order.
func (s *Store) AppendMessage(msg models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if msg.RoomID == "" {
			return fmt.Errorf("message missing roomId")
		}
		roomBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		seq, err := roomBucket.NextSequence()
		if err != nil {
			return err
		}

		dbMsg := messageToDB(msg)
		dbMsg.Seq = seq
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return roomBucket.Put(dbMsg.Key(), data)
	})
}

// ReplaceMessages swaps a room's cached history for the given ordered
// list. Used when the server pushes authoritative history.
func (s *Store) ReplaceMessages(roomID string, msgs []models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		mainBucket := tx.Bucket(bucketMessages)
		if mainBucket.Bucket([]byte(roomID)) != nil {
			if err := mainBucket.DeleteBucket([]byte(roomID)); err != nil {
				return err
			}
		}
		roomBucket, err := mainBucket.CreateBucket([]byte(roomID))
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			seq, err := roomBucket.NextSequence()
			if err != nil {
				return err
			}
			dbMsg := messageToDB(msg)
			dbMsg.Seq = seq
			dbMsg.RoomID = roomID
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := roomBucket.Put(dbMsg.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages returns a room's cached history in arrival order.
func (s *Store) ListMessages(roomID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil // no cached history for this room
		}
		return roomBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
			return nil
		})
	})
	return messages, err
}

// AppendDrugAlert records a received drug alert.
func (s *Store) AppendDrugAlert(alert models.DrugAlert) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbAlert := DBDrugAlert{
			DrugName:   alert.DrugName,
			Message:    alert.Message,
			ReceivedAt: alert.ReceivedAt,
		}
		data, err := dbAlert.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDrugAlerts).Put(dbAlert.Key(), data)
	})
}

// ListDrugAlerts returns recorded drug alerts in receipt order.
func (s *Store) ListDrugAlerts() ([]models.DrugAlert, error) {
	var alerts []models.DrugAlert
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDrugAlerts).ForEach(func(k, v []byte) error {
			var dbAlert DBDrugAlert
			if err := dbAlert.UnmarshalBinary(v); err != nil {
				return err
			}
			alerts = append(alerts, models.DrugAlert{
				DrugName:   dbAlert.DrugName,
				Message:    dbAlert.Message,
				ReceivedAt: dbAlert.ReceivedAt,
			})
			return nil
		})
	})
	return alerts, err
}

func roomToDB(room models.Room) DBRoom {
	dbRoom := DBRoom{
		ID:            room.ID,
		OtherUserID:   room.OtherUser.ID,
		OtherUserName: room.OtherUser.FullName,
		UnreadCount:   room.UnreadCount,
		Closed:        room.Closed,
	}
	if room.Deal != nil {
		dbRoom.DealID = room.Deal.ID
		dbRoom.DealTitle = room.Deal.Title
	}
	if room.Pharmacy != nil {
		dbRoom.PharmacyID = room.Pharmacy.ID
		dbRoom.PharmacyName = room.Pharmacy.Name
	}
	if room.LastMessage != nil {
		dbRoom.LastMessageText = room.LastMessage.Text
		dbRoom.LastMessageAt = room.LastMessage.SentAt
	}
	return dbRoom
}

func roomFromDB(dbRoom DBRoom) models.Room {
	room := models.Room{
		ID: dbRoom.ID,
		OtherUser: models.User{
			ID:       dbRoom.OtherUserID,
			FullName: dbRoom.OtherUserName,
		},
		UnreadCount: dbRoom.UnreadCount,
		Closed:      dbRoom.Closed,
		State:       models.RoomStateUnseen,
	}
	if dbRoom.Closed {
		room.State = models.RoomStateClosed
	}
	if dbRoom.DealID != "" {
		room.Deal = &models.DealRef{ID: dbRoom.DealID, Title: dbRoom.DealTitle}
	}
	if dbRoom.PharmacyID != "" {
		room.Pharmacy = &models.PharmacyRef{ID: dbRoom.PharmacyID, Name: dbRoom.PharmacyName}
	}
	if dbRoom.LastMessageText != "" || dbRoom.LastMessageAt != 0 {
		room.LastMessage = &models.MessageSummary{
			Text:   dbRoom.LastMessageText,
			SentAt: dbRoom.LastMessageAt,
		}
	}
	return room
}

func messageToDB(msg models.Message) DBMessage {
	dbMsg := DBMessage{
		ID:       msg.ID,
		ClientID: msg.ClientID,
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Text:     msg.Text,
		SentAt:   msg.SentAt,
		Status:   string(msg.Status),
		Own:      msg.Own,
	}
	if msg.Attachment != nil {
		dbMsg.AttachmentName = msg.Attachment.Name
		dbMsg.AttachmentMime = msg.Attachment.MimeType
		dbMsg.AttachmentSize = msg.Attachment.Size
	}
	return dbMsg
}

func messageFromDB(dbMsg DBMessage) models.Message {
	msg := models.Message{
		ID:       dbMsg.ID,
		ClientID: dbMsg.ClientID,
		RoomID:   dbMsg.RoomID,
		SenderID: dbMsg.SenderID,
		Text:     dbMsg.Text,
		SentAt:   dbMsg.SentAt,
		Status:   models.MessageStatus(dbMsg.Status),
		Own:      dbMsg.Own,
	}
	if dbMsg.AttachmentName != "" || dbMsg.AttachmentMime != "" {
		msg.Attachment = &models.Attachment{
			Name:     dbMsg.AttachmentName,
			MimeType: dbMsg.AttachmentMime,
			Size:     dbMsg.AttachmentSize,
		}
	}
	return msg
}
