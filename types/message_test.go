package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCreateId(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 42, time.UTC)
	a := Message{UserId: "u1", Username: "alice", RoomId: "general", Content: "hi", Timestamp: ts}
	b := a
	require.NoError(t, a.CreateId())
	require.NoError(t, b.CreateId())
	assert.NotEmpty(t, a.Id)
	assert.Equal(t, a.Id, b.Id)

	// the previous id does not feed into the hash
	require.NoError(t, b.CreateId())
	assert.Equal(t, a.Id, b.Id)

	c := a
	c.Timestamp = ts.Add(time.Nanosecond)
	require.NoError(t, c.CreateId())
	assert.NotEqual(t, a.Id, c.Id)

	d := a
	d.Content = "hello"
	require.NoError(t, d.CreateId())
	assert.NotEqual(t, a.Id, d.Id)
}

func TestNewSystemMessage(t *testing.T) {
	m, err := NewSystemMessage("u1", "general", JoinedContent("alice"))
	require.NoError(t, err)
	assert.True(t, m.IsSystem)
	assert.Equal(t, SystemUsername, m.Username)
	assert.Equal(t, "alice joined the room", m.Content)
	assert.Equal(t, time.UTC, m.Timestamp.Location())
	assert.NotEmpty(t, m.Id)

	u, err := NewMessage("u1", "alice", "general", "hi")
	require.NoError(t, err)
	assert.False(t, u.IsSystem)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice left the room", LeftContent("alice"))
}

func TestMessageJSON(t *testing.T) {
	m := Message{Id: "1", UserId: "u1", Username: "alice", RoomId: "r", Content: "hi", IsSystem: true}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	fields := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"id", "userId", "username", "roomId", "content", "timestamp", "isSystem"} {
		assert.Contains(t, fields, key)
	}
}

func TestStringSlice(t *testing.T) {
	var nilSlice StringSlice
	v, err := nilSlice.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	s := StringSlice{"a", "b"}
	v, err = s.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	var scanned StringSlice
	require.NoError(t, scanned.Scan([]byte(`["x"]`)))
	assert.Equal(t, StringSlice{"x"}, scanned)
	require.NoError(t, scanned.Scan(nil))
	assert.Empty(t, scanned)
	assert.Error(t, scanned.Scan(17))

	raw, err := json.Marshal(struct{ M StringSlice }{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"M":[]}`, string(raw))
}

func TestNewWebsocketMessage(t *testing.T) {
	raw, err := NewWebsocketMessage(EventReceiveMessage, Message{Id: "1"})
	require.NoError(t, err)
	var wm WebsocketMessage
	require.NoError(t, json.Unmarshal(raw, &wm))
	assert.Equal(t, EventReceiveMessage, wm.Event)
	var m Message
	require.NoError(t, json.Unmarshal(wm.Data, &m))
	assert.Equal(t, "1", m.Id)
}
