package transport

import (
	"encoding/json"

	"github.com/loomchat/loom/internal/chat"
)

// Wire events on the realtime channel. Inbound frames carry the server
// copy of a message or an error descriptor; the single outbound frame
// is a send request.
const (
	eventMessageNew   = "message:new"
	eventMessageError = "message:error"
	eventError        = "error"
	eventMessageSend  = "message:send"
)

// frame is the envelope for every channel message.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is the payload of a message:send frame. Exactly one
// of ReceiverID and GroupID is set.
type OutboundMessage struct {
	ClientMessageID string       `json:"clientMessageId"`
	ReceiverID      int64        `json:"receiverId,omitempty"`
	GroupID         int64        `json:"groupId,omitempty"`
	Content         chat.Content `json:"content"`
}

// MessageError is the payload of a message:error frame: a per-message
// delivery failure that affects only the identified message.
type MessageError struct {
	ClientMessageID string `json:"clientMessageId"`
	Reason          string `json:"reason"`
}

// ChannelError is the payload of a channel-level error frame.
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthRejected reports whether a channel error means the token was
// rejected and the user must re-authenticate.
func (e ChannelError) AuthRejected() bool {
	return e.Code == "unauthorized" || e.Code == "token_expired"
}
