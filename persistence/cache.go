package persistence

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/roomchat/types"
)

// CachedUsers resolves user ids through an LRU cache in front of a Persister. Users are looked up on every join,
// send and leave, but change rarely. Only successful lookups are cached, and a cached user is looked up again
// once it is older than the ttl, so renames and deletions made through another process (e.g. roomchat-admin)
// are picked up without a restart.
type CachedUsers struct {
	persister Persister
	cache     *lru.Cache
	ttl       time.Duration
	now       func() time.Time
}

type cachedUser struct {
	user    types.User
	expires time.Time
}

// NewCachedUsers returns a lookup with room for size users, each kept for at most ttl. A size <= 0 or a
// ttl <= 0 disables caching.
func NewCachedUsers(persister Persister, size int, ttl time.Duration) (*CachedUsers, error) {
	c := &CachedUsers{persister: persister, ttl: ttl, now: time.Now}
	if size > 0 && ttl > 0 {
		cache, err := lru.New(size)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// GetUser returns the user with the given id or ErrNotFound.
func (c *CachedUsers) GetUser(userId string) (*types.User, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(userId); ok {
			entry := v.(cachedUser)
			if c.now().Before(entry.expires) {
				user := entry.user
				return &user, nil
			}
			c.cache.Remove(userId)
		}
	}
	user := types.User{Id: userId}
	if err := c.persister.GetUser(&user); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(userId, cachedUser{user: user, expires: c.now().Add(c.ttl)})
	}
	return &user, nil
}
