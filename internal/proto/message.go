package proto

import "encoding/json"

// Realtime event names used by the chat backend.
const (
	EventJoin           = "join"
	EventJoined         = "joined"
	EventReceiveMessage = "receive-message"
	EventError          = "error"
	EventConnectError   = "connect_error"
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
)

// SendPath is the backend endpoint used to submit a message.
const SendPath = "/api/group_chat/add-group_chat"

// TokenHeader carries the bearer credential on HTTP requests.
const TokenHeader = "Token"

// Message is the object pushed by the backend on receive-message.
// MediaURL is kept raw; the backend does not fix the shape of its items.
type Message struct {
	Message    string          `json:"message"`
	SenderID   int64           `json:"sender_id"`
	ReceiverID int64           `json:"receiver_id,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	MediaURL   json.RawMessage `json:"media_url,omitempty"`
}

// SendRequest is the body of a send call.
// The reciever_id spelling belongs to the backend.
type SendRequest struct {
	Message     string            `json:"message" binding:"required"`
	ReceiverID  int64             `json:"reciever_id"`
	MediaURL    []json.RawMessage `json:"media_url"`
	IsGroupChat bool              `json:"is_group_chat"`
}

// SendResponse is what the stub backend answers on success.
type SendResponse struct {
	Status  bool    `json:"status"`
	Message string  `json:"message"`
	Data    Message `json:"data"`
}

// ConnectAuth is the auth payload of the namespace connect packet.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectAck is the payload of a successful namespace connect.
type ConnectAck struct {
	SID string `json:"sid"`
}

// Error describes a connect_error payload.
type Error struct {
	Message string `json:"message"`
}
