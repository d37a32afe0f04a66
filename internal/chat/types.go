package chat

import "github.com/google/uuid"

// Status is the delivery status of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusStored    Status = "stored"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Peer describes the other participant of a direct conversation.
type Peer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// LastMessage is the conversation-list summary of the newest message.
type LastMessage struct {
	Preview  string `json:"preview"`
	SenderID int64  `json:"senderId"`
	At       int64  `json:"at"`
}

// Conversation is a direct or group conversation as held by the store.
type Conversation struct {
	ID          int64       `json:"id"`
	IsGroup     bool        `json:"isGroup"`
	Name        string      `json:"name"`
	Peer        Peer        `json:"participant"`
	GroupID     int64       `json:"groupId,omitempty"`
	LastMessage LastMessage `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}

// DisplayName returns the name to render for the conversation.
func (c Conversation) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if !c.IsGroup && c.Peer.Name != "" {
		return c.Peer.Name
	}
	if !c.IsGroup && c.Peer.Phone != "" {
		return c.Peer.Phone
	}
	return "(unknown)"
}

// Message is a single message within a conversation.
//
// ID is the server-assigned identifier and stays zero while the message
// is only known locally; CorrelationID is the client-generated id that
// ties an optimistic entry to its eventual server confirmation.
type Message struct {
	ID             int64   `json:"id"`
	CorrelationID  string  `json:"clientMessageId,omitempty"`
	ConversationID int64   `json:"conversationId"`
	SenderID       int64   `json:"senderId"`
	ReceiverID     int64   `json:"receiverId,omitempty"`
	GroupID        int64   `json:"groupId,omitempty"`
	Content        Content `json:"content"`
	Status         Status  `json:"status"`
	CreatedAt      int64   `json:"createdAt"`
}

// Confirmed reports whether the message carries a server-assigned id.
func (m Message) Confirmed() bool {
	return m.ID != 0
}

// NewCorrelationID generates a client correlation id.
func NewCorrelationID() string {
	return uuid.New().String()
}
