package session

import "sync"

// roomLocks hands out one mutex per room. Entries exist only while somebody holds or waits for them.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// lock blocks until the room's mutex is held and returns the matching unlock function.
func (l *roomLocks) lock(roomId string) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomId]
	if !ok {
		rl = &roomLock{}
		l.locks[roomId] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomId)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
