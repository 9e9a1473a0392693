package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// SystemUsername is the display name carried by server-generated messages.
const SystemUsername = "System"

// Message is one chat line, either typed by a user or generated by the server (IsSystem). Messages are immutable
// once stored.
type Message struct {
	Id        string    `json:"id" gorm:"primaryKey" hash:"ignore"`
	UserId    string    `json:"userId"`
	Username  string    `json:"username"`
	RoomId    string    `json:"roomId" gorm:"index:idx_messages_room_ts,priority:1"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp" gorm:"index:idx_messages_room_ts,priority:2"`
	IsSystem  bool      `json:"isSystem"`
}

// NewMessage returns a user message stamped with the current UTC time and a fresh id.
func NewMessage(userId, username, roomId, content string) (*Message, error) {
	m := &Message{
		UserId:    userId,
		Username:  username,
		RoomId:    roomId,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if err := m.CreateId(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSystemMessage returns a server-generated notice about userId in roomId.
func NewSystemMessage(userId, roomId, content string) (*Message, error) {
	m := &Message{
		UserId:    userId,
		Username:  SystemUsername,
		RoomId:    roomId,
		Content:   content,
		Timestamp: time.Now().UTC(),
		IsSystem:  true,
	}
	if err := m.CreateId(); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateId sets the Id to the hash of all other fields (the timestamp has nanosecond resolution).
func (m *Message) CreateId() error {
	hash, err := hashstructure.Hash(struct {
		Message
		Nanos int64
	}{*m, m.Timestamp.UnixNano()}, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", hash)
	return nil
}

// JoinedContent is the text of the notice emitted when a user enters a room.
func JoinedContent(username string) string {
	return username + " joined the room"
}

// LeftContent is the text of the notice emitted when a user's last connection leaves a room.
func LeftContent(username string) string {
	return username + " left the room"
}
