package ws

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/roomchat/globals"
	"github.com/tcriess/roomchat/presence"
	"github.com/tcriess/roomchat/types"
)

const (
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Hub owns the outbound channels of all connected clients and fans events out to the members of a room.
// Room membership is not stored here, it is read from the registry at the time of each broadcast.
type Hub struct {
	registry *presence.Registry

	// Registered clients by connection id.
	clients map[string]*Client

	logger hclog.Logger

	// mutex for manipulating the clients and for writing to their Send channels
	sync.RWMutex
}

func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*Client),
		logger:   globals.AppLogger.Named("hub"),
	}
}

// Register makes c reachable by Unicast and, once it is bound to a room, by Broadcast.
func (h *Hub) Register(c *Client) {
	h.Lock()
	defer h.Unlock()
	h.clients[c.Id] = c
	h.logger.Debug("registered client", "connection", c.Id)
}

// Unregister removes the client and closes its Send channel. Unknown ids are ignored.
func (h *Hub) Unregister(connectionId string) {
	h.Lock()
	defer h.Unlock()
	c, ok := h.clients[connectionId]
	if !ok {
		return
	}
	delete(h.clients, connectionId)
	// nobody can write to Send anymore, writers hold the read lock
	close(c.Send)
	h.logger.Debug("unregistered client", "connection", connectionId)
}

// ClientCount returns the number of registered clients, bound to a room or not.
func (h *Hub) ClientCount() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Broadcast sends the event to every connection currently in roomId.
func (h *Hub) Broadcast(roomId, event string, payload interface{}) {
	data, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	members := h.registry.MembersOf(roomId)
	h.RLock()
	defer h.RUnlock()
	for _, id := range members {
		if c, ok := h.clients[id]; ok {
			h.enqueue(c, event, data)
		}
	}
}

// Unicast sends the event to a single connection.
func (h *Hub) Unicast(connectionId, event string, payload interface{}) {
	data, err := types.NewWebsocketMessage(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	if c, ok := h.clients[connectionId]; ok {
		h.enqueue(c, event, data)
	}
}

// enqueue never blocks; a client that does not keep up loses the frame. Must be called with the read lock held.
func (h *Hub) enqueue(c *Client, event string, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.logger.Warn("send buffer full, dropping event", "connection", c.Id, "event", event)
	}
}

// Shutdown closes all websocket connections. The read loops notice and clean up as usual.
func (h *Hub) Shutdown() {
	h.RLock()
	defer h.RUnlock()
	for _, c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}
