package types

import "encoding/json"

// Events exchanged over the websocket connection.
const (
	EventJoinRoom           = "JoinRoom"
	EventSendMessage        = "SendMessage"
	EventLoadRecentMessages = "LoadRecentMessages"
	EventReceiveMessage     = "ReceiveMessage"
	EventError              = "Error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWebsocketMessage wraps payload in a WebsocketMessage and serializes it.
func NewWebsocketMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}

// The invocations a client sends to the server.

// JoinRoomArgs binds the connection to a room on behalf of a user.
type JoinRoomArgs struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
	UserId string `json:"userId" mapstructure:"userId"`
}

// SendMessageArgs posts content to a room.
type SendMessageArgs struct {
	UserId  string `json:"userId" mapstructure:"userId"`
	RoomId  string `json:"roomId" mapstructure:"roomId"`
	Content string `json:"content" mapstructure:"content"`
}

// ErrorMessage reports a failed invocation back to the calling connection only.
type ErrorMessage struct {
	Procedure string `json:"procedure"`
	Message   string `json:"message"`
}
