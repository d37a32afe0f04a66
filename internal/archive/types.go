package archive

import (
	"fmt"

	"github.com/loomchat/loom/internal/chat"
)

// ConversationRow is an archived conversation summary.
type ConversationRow struct {
	ID                 int64
	IsGroup            bool
	Name               string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// MessageRow is an archived message.
type MessageRow struct {
	ID             int64
	ConversationID int64
	MsgKey         string
	ServerID       int64
	SenderID       int64
	SenderName     string
	Body           string
	ContentType    string
	Status         string
	CreatedAt      int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message MessageRow
	Snippet string
}

// MessageKey returns the stable dedupe key for a message. The client
// correlation id survives confirmation, so an optimistic entry and its
// confirmed copy share one key; inbound messages never carry one and
// key on the server id instead.
func MessageKey(m chat.Message) string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return fmt.Sprintf("srv:%d", m.ID)
}
