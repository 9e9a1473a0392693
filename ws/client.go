package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/roomchat/types"
)

// Coordinator runs the room protocols on behalf of a connection.
type Coordinator interface {
	Join(connectionId, roomId, userId string) error
	Send(userId, roomId, content string) error
	Disconnect(connectionId string) error
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Id string

	hub         *Hub
	coordinator Coordinator

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	maxMessageSize int64

	// WaitGroup which keeps track of the running write loop.
	sync.WaitGroup
}

func NewClient(hub *Hub, coordinator Coordinator, conn *websocket.Conn, maxMessageSize int64) *Client {
	return &Client{
		Id:             uuid.NewString(),
		hub:            hub,
		coordinator:    coordinator,
		conn:           conn,
		Send:           make(chan []byte, sendChannelSize),
		maxMessageSize: maxMessageSize,
	}
}

// ReadLoop pumps invocations from the websocket connection to the coordinator until the connection fails.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine, so the invocations of one connection are handled in order.
func (c *Client) ReadLoop() {
	logger := c.hub.logger.With("connection", c.Id)
	defer c.conn.Close()
	if c.maxMessageSize > 0 {
		c.conn.SetReadLimit(c.maxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Info("ws closed unexpectedly", "error", err)
			} else {
				logger.Debug("stop reading", "error", err)
			}
			return
		}
		c.handle(raw)
	}
}

// handle decodes and executes a single invocation. Failures are reported to this client only.
func (c *Client) handle(raw []byte) {
	message := types.WebsocketMessage{}
	if err := json.Unmarshal(raw, &message); err != nil {
		c.sendError("", fmt.Errorf("could not unmarshal ws message: %w", err))
		return
	}
	var err error
	switch message.Event {
	case types.EventJoinRoom:
		args := types.JoinRoomArgs{}
		if err = decodeArgs(message.Data, &args); err == nil {
			err = c.coordinator.Join(c.Id, args.RoomId, args.UserId)
		}

	case types.EventSendMessage:
		args := types.SendMessageArgs{}
		if err = decodeArgs(message.Data, &args); err == nil {
			err = c.coordinator.Send(args.UserId, args.RoomId, args.Content)
		}

	default:
		c.hub.logger.Debug("ignoring unknown event", "connection", c.Id, "event", message.Event)
		return
	}
	if err != nil {
		c.sendError(message.Event, err)
	}
}

// decodeArgs weakly decodes the data object of an invocation, so that f.e. numeric ids are accepted as strings.
func decodeArgs(data json.RawMessage, args interface{}) error {
	argMap := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &argMap); err != nil {
			return fmt.Errorf("could not unmarshal arguments: %w", err)
		}
	}
	if err := mapstructure.WeakDecode(argMap, args); err != nil {
		return fmt.Errorf("could not decode arguments: %w", err)
	}
	return nil
}

func (c *Client) sendError(procedure string, err error) {
	c.hub.logger.Warn("invocation failed", "connection", c.Id, "procedure", procedure, "error", err)
	c.hub.Unicast(c.Id, types.EventError, types.ErrorMessage{Procedure: procedure, Message: err.Error()})
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine. It returns when the hub closes Send.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("could not write to ws connection", "connection", c.Id, "error", err)
				c.drain()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drain()
				return
			}
		}
	}
}

// drain discards outbound messages until the hub closes Send, so a dead connection never fills its buffer.
func (c *Client) drain() {
	go func() {
		for range c.Send {
		}
	}()
}
