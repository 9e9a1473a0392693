// Package session implements the room protocols of the chat: joining a room, sending a message and
// disconnecting. It keeps the presence registry and the broadcast groups consistent and announces a user
// entering or fully leaving a room exactly once.
package session

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/roomchat/globals"
	"github.com/tcriess/roomchat/persistence"
	"github.com/tcriess/roomchat/presence"
	"github.com/tcriess/roomchat/types"
)

const DefaultHistorySize = 50

// UserLookup resolves user ids. Unknown users are reported as persistence.ErrNotFound.
type UserLookup interface {
	GetUser(userId string) (*types.User, error)
}

// MessageStore persists messages. GetRecentMessages returns the newest limit messages in ascending order.
type MessageStore interface {
	StoreMessage(*types.Message) error
	GetRecentMessages(roomId string, limit int) ([]*types.Message, error)
}

// Broadcaster delivers events to the connections of a room (or to a single connection). Delivery is best effort.
type Broadcaster interface {
	Broadcast(roomId, event string, payload interface{})
	Unicast(connectionId, event string, payload interface{})
}

type Coordinator struct {
	registry    *presence.Registry
	users       UserLookup
	messages    MessageStore
	broadcaster Broadcaster
	historySize int
	locks       *roomLocks
	logger      hclog.Logger
}

func NewCoordinator(registry *presence.Registry, users UserLookup, messages MessageStore, broadcaster Broadcaster, historySize int) *Coordinator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Coordinator{
		registry:    registry,
		users:       users,
		messages:    messages,
		broadcaster: broadcaster,
		historySize: historySize,
		locks:       newRoomLocks(),
		logger:      globals.AppLogger.Named("session"),
	}
}

// lookupUser returns nil (and no error) for unknown users.
func (c *Coordinator) lookupUser(userId string) (*types.User, error) {
	user, err := c.users.GetUser(userId)
	if errors.Is(err, persistence.ErrNotFound) {
		c.logger.Debug("ignoring unknown user", "user", userId)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not look up user %s: %w", userId, err)
	}
	return user, nil
}

// Join binds connectionId to roomId. A connection bound to another room leaves it silently. The caller
// receives the recent history of the room before it becomes a broadcast target, and the room is told
// about the user unless one of the user's other connections is already there.
func (c *Coordinator) Join(connectionId, roomId, userId string) error {
	if current, ok := c.registry.Get(connectionId); ok && current.RoomId != roomId {
		unlock := c.locks.lock(current.RoomId)
		c.registry.Remove(connectionId)
		unlock()
		c.logger.Debug("left room without notice", "connection", connectionId, "room", current.RoomId)
	}

	user, err := c.lookupUser(userId)
	if err != nil || user == nil {
		return err
	}

	unlock := c.locks.lock(roomId)
	defer unlock()

	wasAlreadyPresent := c.registry.IsUserInRoom(userId, roomId)

	history, err := c.messages.GetRecentMessages(roomId, c.historySize)
	if err != nil {
		return fmt.Errorf("could not load recent messages of room %s: %w", roomId, err)
	}
	c.broadcaster.Unicast(connectionId, types.EventLoadRecentMessages, history)

	c.registry.Set(connectionId, roomId, userId)
	c.logger.Debug("joined room", "connection", connectionId, "room", roomId, "user", userId)

	if wasAlreadyPresent {
		return nil
	}
	return c.announce(userId, roomId, types.JoinedContent(user.Username))
}

// Send persists a message of userId and broadcasts it to roomId. Nothing is broadcast if the message could
// not be stored. The room lock keeps a joining connection from missing the message: it is either part of the
// joiner's history or broadcast after the joiner became a member.
func (c *Coordinator) Send(userId, roomId, content string) error {
	user, err := c.lookupUser(userId)
	if err != nil || user == nil {
		return err
	}

	unlock := c.locks.lock(roomId)
	defer unlock()

	message, err := types.NewMessage(userId, user.Username, roomId, content)
	if err != nil {
		return err
	}
	if err := c.messages.StoreMessage(message); err != nil {
		return fmt.Errorf("could not store message: %w", err)
	}
	c.broadcaster.Broadcast(roomId, types.EventReceiveMessage, message)
	return nil
}

// Disconnect unbinds connectionId. The room is told that the user left once their last connection is gone.
// Unknown connections are ignored, so Disconnect may be called more than once.
func (c *Coordinator) Disconnect(connectionId string) error {
	for {
		current, ok := c.registry.Get(connectionId)
		if !ok {
			return nil
		}
		unlock := c.locks.lock(current.RoomId)
		// the connection may have switched rooms while we were waiting for the lock
		conn, ok := c.registry.Get(connectionId)
		if ok && conn.RoomId != current.RoomId {
			unlock()
			continue
		}
		err := c.leave(connectionId, current)
		unlock()
		return err
	}
}

// leave runs with the room lock held.
func (c *Coordinator) leave(connectionId string, conn presence.Connection) error {
	if !c.registry.Remove(connectionId) {
		return nil
	}
	c.logger.Debug("left room", "connection", connectionId, "room", conn.RoomId, "user", conn.UserId)
	if c.registry.HasOtherConnection(connectionId, conn.UserId, conn.RoomId) {
		return nil
	}
	user, err := c.lookupUser(conn.UserId)
	if err != nil || user == nil {
		return err
	}
	return c.announce(conn.UserId, conn.RoomId, types.LeftContent(user.Username))
}

// announce stores a system message and broadcasts it to the room.
func (c *Coordinator) announce(userId, roomId, content string) error {
	message, err := types.NewSystemMessage(userId, roomId, content)
	if err != nil {
		return err
	}
	if err := c.messages.StoreMessage(message); err != nil {
		return fmt.Errorf("could not store system message: %w", err)
	}
	c.broadcaster.Broadcast(roomId, types.EventReceiveMessage, message)
	return nil
}
