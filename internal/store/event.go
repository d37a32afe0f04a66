package store

import "github.com/loomchat/loom/internal/chat"

// Event is a state transition input for the store. Every mutation goes
// through Apply with one of these, so the full merge behavior is the
// closed set below rather than ad-hoc setters.
type Event interface {
	eventKind() string
}

// LocalInsert inserts an optimistic, locally-created message. The
// message must carry a correlation id and a conversation id; its server
// id is still zero.
type LocalInsert struct {
	Message chat.Message
}

// Confirm replaces a pending entry with the server's authoritative copy,
// matched by correlation id. A REST response and a channel ack both
// arrive as Confirm; whichever lands first wins and the other no-ops.
type Confirm struct {
	ConversationID int64
	CorrelationID  string
	Message        chat.Message
}

// SendFailed marks a pending entry failed. The entry stays visible.
type SendFailed struct {
	ConversationID int64
	CorrelationID  string
}

// RemoteMessage inserts an inbound message sent by another party (or an
// own-message copy the reconciler chose to keep). Idempotent on the
// server id.
type RemoteMessage struct {
	Message chat.Message
	// Own is true when the message was authored by the local user;
	// own messages never touch unread counters or summaries.
	Own bool
}

// MessagesLoaded replaces a conversation's history with a REST fetch,
// preserving any still-unconfirmed local entries.
type MessagesLoaded struct {
	ConversationID int64
	Messages       []chat.Message
}

// ConversationsLoaded replaces the conversation list with a fresh fetch.
type ConversationsLoaded struct {
	Conversations []chat.Conversation
}

// ConversationUpserted inserts or replaces a single conversation record.
type ConversationUpserted struct {
	Conversation chat.Conversation
}

// ActiveChanged selects the open conversation. Carries the full object
// so locally-known participant details survive even when the backend
// has not confirmed the conversation yet.
type ActiveChanged struct {
	Conversation chat.Conversation
}

// LoadingSet flips the request-in-flight flag.
type LoadingSet struct {
	Loading bool
}

// NoticeSet surfaces a non-fatal banner notice for the view.
type NoticeSet struct {
	Notice Notice
}

// NoticeCleared dismisses the current notice.
type NoticeCleared struct{}

// Cleared wipes all state. Dispatched on sign-out so no conversation or
// message data leaks across sessions.
type Cleared struct{}

func (LocalInsert) eventKind() string          { return "local_insert" }
func (Confirm) eventKind() string              { return "confirm" }
func (SendFailed) eventKind() string           { return "send_failed" }
func (RemoteMessage) eventKind() string        { return "remote_message" }
func (MessagesLoaded) eventKind() string       { return "messages_loaded" }
func (ConversationsLoaded) eventKind() string  { return "conversations_loaded" }
func (ConversationUpserted) eventKind() string { return "conversation_upserted" }
func (ActiveChanged) eventKind() string        { return "active_changed" }
func (LoadingSet) eventKind() string           { return "loading_set" }
func (NoticeSet) eventKind() string            { return "notice_set" }
func (NoticeCleared) eventKind() string        { return "notice_cleared" }
func (Cleared) eventKind() string              { return "cleared" }

// NoticeKind classifies store-level notices per the error taxonomy:
// connection trouble is informational, auth failure demands re-login.
type NoticeKind string

const (
	NoticeConnection NoticeKind = "connection"
	NoticeAuth       NoticeKind = "auth"
)

// Notice is a dismissible, non-fatal banner the view renders.
type Notice struct {
	Kind    NoticeKind
	Message string
}
