package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/types"
)

// ErrNotFound is returned by every backend when the requested user, room or record does not exist.
var ErrNotFound = errors.New("not found")

// Persister is implemented by all storage backends. StoreMessage also updates the LastActivity of the message's room
// (if that room exists). GetRecentMessages returns the newest limit messages of a room in ascending timestamp order.
type Persister interface {
	StoreUser(types.User) error
	GetUser(*types.User) error
	GetUsers() ([]*types.User, error)
	DeleteUser(*types.User) error
	StoreRoom(types.Room) error
	GetRoom(*types.Room) error
	GetRooms(limit int) ([]*types.Room, error)
	DeleteRoom(*types.Room) error
	StoreMessage(*types.Message) error
	GetRecentMessages(roomId string, limit int) ([]*types.Message, error)
	DeleteMessagesBefore(time.Time) (int, error)
	Close() error
}

// NewPersister opens the backend selected by cfg.PersistenceConfig.Type.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "", "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewSQLPersister(cfg)
	case "gorm-sqlite", "gorm-postgres":
		return NewGormPersister(cfg)
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}

// reverseMessages turns a newest-first page into display order.
func reverseMessages(messages []*types.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
