// Package presence tracks which live connection is bound to which (room, user) pair and answers the presence
// questions the join/leave notice rules depend on. Presence is never stored on its own, it is always derived from
// the current connection entries.
package presence

import (
	"sync"
)

// Connection is the registry entry of a connection bound to a room.
type Connection struct {
	ConnectionId string
	RoomId       string
	UserId       string
}

// Registry is the process-wide connection table. It starts empty and is only changed through Set and Remove.
// All methods are safe for concurrent use, and every read sees a consistent snapshot.
type Registry struct {
	byConn map[string]Connection
	byRoom map[string]map[string]struct{}

	sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]Connection),
		byRoom: make(map[string]map[string]struct{}),
	}
}

// Set binds connectionId to (roomId, userId), replacing any previous entry and room membership of connectionId.
func (r *Registry) Set(connectionId, roomId, userId string) {
	r.Lock()
	defer r.Unlock()
	if old, ok := r.byConn[connectionId]; ok {
		r.leaveRoom(old)
	}
	r.byConn[connectionId] = Connection{ConnectionId: connectionId, RoomId: roomId, UserId: userId}
	members, ok := r.byRoom[roomId]
	if !ok {
		members = make(map[string]struct{})
		r.byRoom[roomId] = members
	}
	members[connectionId] = struct{}{}
}

// Remove deletes the entry of connectionId. It reports whether there was one; removing twice is not an error.
func (r *Registry) Remove(connectionId string) bool {
	r.Lock()
	defer r.Unlock()
	old, ok := r.byConn[connectionId]
	if !ok {
		return false
	}
	r.leaveRoom(old)
	delete(r.byConn, connectionId)
	return true
}

// leaveRoom must be called with the write lock held.
func (r *Registry) leaveRoom(c Connection) {
	members, ok := r.byRoom[c.RoomId]
	if !ok {
		return
	}
	delete(members, c.ConnectionId)
	if len(members) == 0 {
		delete(r.byRoom, c.RoomId)
	}
}

func (r *Registry) Get(connectionId string) (Connection, bool) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.byConn[connectionId]
	return c, ok
}

// MembersOf returns the ids of all connections currently bound to roomId, in no particular order.
func (r *Registry) MembersOf(roomId string) []string {
	r.RLock()
	defer r.RUnlock()
	members := r.byRoom[roomId]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// UsersIn returns the distinct users present in roomId.
func (r *Registry) UsersIn(roomId string) []string {
	r.RLock()
	defer r.RUnlock()
	seen := make(map[string]struct{})
	users := make([]string, 0)
	for id := range r.byRoom[roomId] {
		userId := r.byConn[id].UserId
		if _, ok := seen[userId]; ok {
			continue
		}
		seen[userId] = struct{}{}
		users = append(users, userId)
	}
	return users
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.byConn)
}

// IsUserInRoom reports whether any connection binds userId to roomId.
func (r *Registry) IsUserInRoom(userId, roomId string) bool {
	return r.HasOtherConnection("", userId, roomId)
}

// HasOtherConnection reports whether a connection other than excludeConnectionId binds userId to roomId.
func (r *Registry) HasOtherConnection(excludeConnectionId, userId, roomId string) bool {
	r.RLock()
	defer r.RUnlock()
	for id := range r.byRoom[roomId] {
		if id == excludeConnectionId {
			continue
		}
		if r.byConn[id].UserId == userId {
			return true
		}
	}
	return false
}
