package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySetGetRemove(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("c1")
	assert.False(t, ok)

	r.Set("c1", "general", "alice")
	c, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, Connection{ConnectionId: "c1", RoomId: "general", UserId: "alice"}, c)
	assert.ElementsMatch(t, []string{"c1"}, r.MembersOf("general"))

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Remove("c1"))
	_, ok = r.Get("c1")
	assert.False(t, ok)
	assert.Empty(t, r.MembersOf("general"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySetMovesRoom(t *testing.T) {
	r := NewRegistry()
	r.Set("c1", "general", "alice")
	r.Set("c2", "general", "bob")
	r.Set("c1", "random", "alice")

	assert.ElementsMatch(t, []string{"c2"}, r.MembersOf("general"))
	assert.ElementsMatch(t, []string{"c1"}, r.MembersOf("random"))
	assert.False(t, r.IsUserInRoom("alice", "general"))
	assert.True(t, r.IsUserInRoom("alice", "random"))
	assert.Equal(t, 2, r.Len())
}

func TestRegistryPresence(t *testing.T) {
	r := NewRegistry()
	r.Set("tab1", "general", "alice")
	r.Set("tab2", "general", "alice")
	r.Set("c3", "general", "bob")

	assert.True(t, r.IsUserInRoom("alice", "general"))
	assert.False(t, r.IsUserInRoom("alice", "random"))
	assert.False(t, r.IsUserInRoom("carol", "general"))

	assert.True(t, r.HasOtherConnection("tab1", "alice", "general"))
	assert.True(t, r.HasOtherConnection("tab2", "alice", "general"))
	assert.False(t, r.HasOtherConnection("c3", "bob", "general"))

	r.Remove("tab2")
	assert.False(t, r.HasOtherConnection("tab1", "alice", "general"))
	assert.True(t, r.IsUserInRoom("alice", "general"))

	assert.ElementsMatch(t, []string{"alice", "bob"}, r.UsersIn("general"))
	assert.Empty(t, r.UsersIn("random"))
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			room := fmt.Sprintf("room%d", i%3)
			r.Set(id, room, "alice")
			_ = r.IsUserInRoom("alice", room)
			_ = r.MembersOf(room)
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	total := 0
	for i := 0; i < 3; i++ {
		members := r.MembersOf(fmt.Sprintf("room%d", i))
		for _, id := range members {
			c, ok := r.Get(id)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("room%d", i), c.RoomId)
		}
		total += len(members)
	}
	assert.Equal(t, 25, total)
}
