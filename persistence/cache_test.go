package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/types"
)

type countingPersister struct {
	Persister
	lookups int
}

func (p *countingPersister) GetUser(user *types.User) error {
	p.lookups++
	return p.Persister.GetUser(user)
}

func newCountingPersister(t *testing.T) *countingPersister {
	t.Helper()
	p, err := NewPersister(newTestConfig("buntdb", ":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &countingPersister{Persister: p}
}

func mustCachedUsers(t *testing.T, p Persister, size int, ttl time.Duration) *CachedUsers {
	t.Helper()
	users, err := NewCachedUsers(p, size, ttl)
	require.NoError(t, err)
	return users
}

func TestCachedUsers(t *testing.T) {
	p := newCountingPersister(t)
	require.NoError(t, p.StoreUser(types.User{Id: "u1", Username: "alice"}))

	users, err := NewCachedUsers(p, 8, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		u, err := users.GetUser("u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
	}
	assert.Equal(t, 1, p.lookups)

	// misses are not cached
	_, err = users.GetUser("u2")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, p.StoreUser(types.User{Id: "u2", Username: "bob"}))
	u, err := users.GetUser("u2")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, 3, p.lookups)

	// callers get copies
	u.Username = "mallory"
	u, err = users.GetUser("u2")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)

}

func TestCachedUsersExpire(t *testing.T) {
	p := newCountingPersister(t)
	require.NoError(t, p.StoreUser(types.User{Id: "u1", Username: "alice"}))
	require.NoError(t, p.StoreUser(types.User{Id: "u2", Username: "bob"}))

	users, err := NewCachedUsers(p, 8, time.Minute)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	users.now = func() time.Time { return now }

	_, err = users.GetUser("u1")
	require.NoError(t, err)
	_, err = users.GetUser("u2")
	require.NoError(t, err)

	// changed behind the cache's back, like roomchat-admin does
	require.NoError(t, p.StoreUser(types.User{Id: "u1", Username: "alice2"}))
	require.NoError(t, p.DeleteUser(&types.User{Id: "u2"}))

	now = now.Add(59 * time.Second)
	u, err := users.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	_, err = users.GetUser("u2")
	require.NoError(t, err)
	assert.Equal(t, 2, p.lookups)

	now = now.Add(time.Second)
	u, err = users.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
	_, err = users.GetUser("u2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 4, p.lookups)

	// the deleted user stays unknown
	_, err = users.GetUser("u2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, p.lookups)
}

func TestCachedUsersDisabled(t *testing.T) {
	p := newCountingPersister(t)
	require.NoError(t, p.StoreUser(types.User{Id: "u1", Username: "alice"}))

	for _, users := range []*CachedUsers{
		mustCachedUsers(t, p, 0, time.Minute),
		mustCachedUsers(t, p, 8, 0),
	} {
		for i := 0; i < 3; i++ {
			_, err := users.GetUser("u1")
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 6, p.lookups)
}

func TestStartRetention(t *testing.T) {
	p := newCountingPersister(t)

	c, err := StartRetention(p, &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = StartRetention(p, &config.Config{RetentionConfig: config.RetentionConfig{Schedule: "@hourly"}})
	assert.Error(t, err)

	_, err = StartRetention(p, &config.Config{RetentionConfig: config.RetentionConfig{Schedule: "not a schedule", MaxAge: time.Hour}})
	assert.Error(t, err)

	c, err = StartRetention(p, &config.Config{RetentionConfig: config.RetentionConfig{Schedule: "@every 1s", MaxAge: time.Hour}})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}
