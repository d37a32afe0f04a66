package archive

import (
	"context"

	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
	"go.uber.org/zap"
)

// Archiver mirrors store events into the SQLite history cache. It is a
// passive consumer: the in-memory store stays authoritative and archive
// writes never feed back into it, so a write failure costs history, not
// correctness.
type Archiver struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewArchiver(db *DB, b *bus.Bus, logger *zap.Logger) *Archiver {
	return &Archiver{db: db, bus: b, logger: logger}
}

// Start subscribes to message and conversation events and ingests them
// on a single goroutine.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	msgCh, unsubMsg := a.bus.Subscribe("message.", 256)
	convCh, unsubConv := a.bus.Subscribe("conversation.", 64)

	go func() {
		defer close(a.done)
		defer unsubMsg()
		defer unsubConv()
		for {
			select {
			case evt := <-msgCh:
				a.ingestMessage(evt)
			case evt := <-convCh:
				a.ingestConversation(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the ingest loop and waits for it to drain.
func (a *Archiver) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *Archiver) ingestMessage(evt bus.Event) {
	msg, ok := evt.Payload.(chat.Message)
	if !ok {
		return
	}
	if err := a.db.UpsertMessage(messageRow(msg)); err != nil {
		a.logger.Warn("archive message write failed",
			zap.Error(err),
			zap.String("kind", evt.Kind),
			zap.Int64("conversation_id", msg.ConversationID))
	}
}

func (a *Archiver) ingestConversation(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case chat.Conversation:
		a.upsertConversation(payload)
	case []chat.Conversation:
		for _, c := range payload {
			a.upsertConversation(c)
		}
	}
}

func (a *Archiver) upsertConversation(c chat.Conversation) {
	if err := a.db.UpsertConversation(conversationRow(c)); err != nil {
		a.logger.Warn("archive conversation write failed",
			zap.Error(err),
			zap.Int64("conversation_id", c.ID))
	}
}

func messageRow(m chat.Message) *MessageRow {
	body := m.Content.Text
	if body == "" {
		body = m.Content.Caption
	}
	return &MessageRow{
		ConversationID: m.ConversationID,
		MsgKey:         MessageKey(m),
		ServerID:       m.ID,
		SenderID:       m.SenderID,
		Body:           body,
		ContentType:    string(m.Content.Type),
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
	}
}

func conversationRow(c chat.Conversation) *ConversationRow {
	return &ConversationRow{
		ID:                 c.ID,
		IsGroup:            c.IsGroup,
		Name:               c.DisplayName(),
		UnreadCount:        c.UnreadCount,
		LastMessageAt:      c.LastMessage.At,
		LastMessagePreview: c.LastMessage.Preview,
	}
}
