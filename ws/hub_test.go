package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/roomchat/presence"
	"github.com/tcriess/roomchat/types"
)

func newTestClient(hub *Hub, id string) *Client {
	c := NewClient(hub, nil, nil, 0)
	c.Id = id
	hub.Register(c)
	return c
}

func receive(t *testing.T, c *Client) types.WebsocketMessage {
	t.Helper()
	select {
	case raw := <-c.Send:
		msg := types.WebsocketMessage{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	default:
		require.FailNow(t, "no message queued", "client %s", c.Id)
	}
	return types.WebsocketMessage{}
}

func TestHubBroadcastReachesRoomMembersOnly(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")
	unbound := newTestClient(hub, "unbound")
	other := newTestClient(hub, "other")
	registry.Set("a", "general", "alice")
	registry.Set("b", "general", "bob")
	registry.Set("other", "random", "carol")
	// registered in the registry but without a client, f.e. already unregistered
	registry.Set("gone", "general", "dave")

	hub.Broadcast("general", types.EventReceiveMessage, types.Message{Content: "hi"})

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		assert.Equal(t, types.EventReceiveMessage, msg.Event)
		m := types.Message{}
		require.NoError(t, json.Unmarshal(msg.Data, &m))
		assert.Equal(t, "hi", m.Content)
	}
	assert.Empty(t, unbound.Send)
	assert.Empty(t, other.Send)
	assert.Equal(t, 4, hub.ClientCount())
}

func TestHubUnicast(t *testing.T) {
	hub := NewHub(presence.NewRegistry())
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Unicast("a", types.EventLoadRecentMessages, []types.Message{{Content: "old"}})
	hub.Unicast("nobody", types.EventLoadRecentMessages, []types.Message{})

	msg := receive(t, a)
	assert.Equal(t, types.EventLoadRecentMessages, msg.Event)
	history := make([]types.Message, 0)
	require.NoError(t, json.Unmarshal(msg.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "old", history[0].Content)
	assert.Empty(t, b.Send)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry)
	slow := newTestClient(hub, "slow")
	fast := newTestClient(hub, "fast")
	registry.Set("slow", "general", "alice")
	registry.Set("fast", "general", "bob")

	for i := 0; i < sendChannelSize; i++ {
		hub.Unicast("slow", types.EventReceiveMessage, i)
	}
	hub.Broadcast("general", types.EventReceiveMessage, "x")

	assert.Len(t, slow.Send, sendChannelSize)
	assert.Len(t, fast.Send, 1)
}

func TestHubUnregister(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry)
	a := newTestClient(hub, "a")
	registry.Set("a", "general", "alice")

	hub.Unregister("a")
	hub.Unregister("a")
	_, ok := <-a.Send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ClientCount())

	// must not panic on the closed channel
	hub.Broadcast("general", types.EventReceiveMessage, "x")
	hub.Unicast("a", types.EventReceiveMessage, "x")
}
