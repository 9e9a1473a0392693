package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/globals"
	"github.com/tcriess/roomchat/types"
	"github.com/tidwall/buntdb"
)

const (
	userKeyPrefix    = "user:"
	roomKeyPrefix    = "room:"
	messageKeyPrefix = "message:"
	memoryDSN        = ":memory:"
)

type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		fileName = memoryDSN
	}
	var fileLock *flock.Flock
	if fileName != memoryDSN {
		// buntdb does not guard against a second process appending to the same file
		fileLock = flock.New(fileName + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("database %s is in use by another process", fileName)
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, lock: fileLock}, nil
}

// messageKeyPrefixFor is the key prefix of all messages of a room. Keys continue with the zero-padded
// nanosecond timestamp, so the default key order is the chronological order within a room.
func messageKeyPrefixFor(roomId string) string {
	return messageKeyPrefix + roomId + "\x00"
}

func messageKey(m *types.Message) string {
	return fmt.Sprintf("%s%020d:%s", messageKeyPrefixFor(m.RoomId), m.Timestamp.UnixNano(), m.Id)
}

func translateBuntErr(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	u, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(userKeyPrefix+user.Id, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	err := p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get(userKeyPrefix + user.Id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(u), user)
	})
	return translateBuntErr(err)
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(userKeyPrefix+"*", func(key, val string) bool {
			user := &types.User{}
			if err := json.Unmarshal([]byte(val), user); err != nil {
				globals.AppLogger.Error("could not unmarshal user", "key", key, "error", err)
				return true
			}
			users = append(users, user)
			return true
		})
	})
	return users, err
}

func (p *BuntDBPersist) DeleteUser(user *types.User) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(userKeyPrefix + user.Id)
		return err
	})
	return translateBuntErr(err)
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	r, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(roomKeyPrefix+room.Id, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return fmt.Errorf("no room id")
	}
	err := p.db.View(func(tx *buntdb.Tx) error {
		r, err := tx.Get(roomKeyPrefix + room.Id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(r), room)
	})
	return translateBuntErr(err)
}

// GetRooms returns the rooms ordered by LastActivity, most recent first. A limit <= 0 returns all rooms.
func (p *BuntDBPersist) GetRooms(limit int) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(roomKeyPrefix+"*", func(key, val string) bool {
			room := &types.Room{}
			if err := json.Unmarshal([]byte(val), room); err != nil {
				globals.AppLogger.Error("could not unmarshal room", "key", key, "error", err)
				return true
			}
			rooms = append(rooms, room)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].LastActivity.After(rooms[j].LastActivity)
	})
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(roomKeyPrefix + room.Id)
		return err
	})
	return translateBuntErr(err)
}

func (p *BuntDBPersist) StoreMessage(message *types.Message) error {
	msg, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(messageKey(message), string(msg), nil)
		if err != nil {
			return err
		}
		raw, err := tx.Get(roomKeyPrefix + message.RoomId)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		room := types.Room{}
		if err := json.Unmarshal([]byte(raw), &room); err != nil {
			return err
		}
		room.LastActivity = message.Timestamp
		r, err := json.Marshal(room)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(roomKeyPrefix+room.Id, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetRecentMessages(roomId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	prefix := messageKeyPrefixFor(roomId)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendLessOrEqual("", prefix+"\xff", func(key, val string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			message := &types.Message{}
			if err := json.Unmarshal([]byte(val), message); err != nil {
				globals.AppLogger.Error("could not unmarshal message", "key", key, "error", err)
				return true
			}
			messages = append(messages, message)
			return limit <= 0 || len(messages) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (p *BuntDBPersist) DeleteMessagesBefore(before time.Time) (int, error) {
	deleted := 0
	err := p.db.Update(func(tx *buntdb.Tx) error {
		keys := make([]string, 0)
		err := tx.AscendKeys(messageKeyPrefix+"*", func(key, val string) bool {
			message := types.Message{}
			if err := json.Unmarshal([]byte(val), &message); err != nil {
				return true
			}
			if message.Timestamp.Before(before) {
				keys = append(keys, key)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if unlockErr := p.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}
