package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/rest"
	"github.com/loomchat/loom/internal/store"
	"github.com/loomchat/loom/internal/transport"
	"go.uber.org/zap"
)

// Backend is the subset of the REST client the reconciler needs.
type Backend interface {
	Conversations(ctx context.Context) ([]chat.Conversation, error)
	ConversationMessages(ctx context.Context, conversationID int64) ([]chat.Message, error)
	GroupMessages(ctx context.Context, groupID int64) ([]chat.Message, error)
	SendMessage(ctx context.Context, req rest.SendMessageRequest) (chat.Message, error)
}

// Channel is the realtime send primitive.
type Channel interface {
	Send(out transport.OutboundMessage) error
}

// Reconciler merges locally-sent and remotely-received message events
// into the store exactly once, regardless of delivery order or
// duplication. It consumes rt.* bus events on a single goroutine, so
// the store sees one writer.
type Reconciler struct {
	store   *store.Store
	backend Backend
	channel Channel
	bus     *bus.Bus
	index   *index
	logger  *zap.Logger
	selfID  int64
	cancel  context.CancelFunc
}

// New creates a reconciler. selfID is the local user's id, used to
// discard own-message echoes.
func New(s *store.Store, backend Backend, channel Channel, b *bus.Bus, selfID int64, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   s,
		backend: backend,
		channel: channel,
		bus:     b,
		index:   newIndex(),
		logger:  logger,
		selfID:  selfID,
	}
}

// Start subscribes to realtime events on the bus.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("rt.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "rt.message":
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		r.HandleInbound(ctx, msg)
	case "rt.message_error":
		msgErr, ok := evt.Payload.(transport.MessageError)
		if !ok {
			return
		}
		r.handleMessageError(msgErr)
	case "rt.connected":
		r.store.Apply(store.NoticeCleared{})
	case "rt.connect_error", "rt.disconnected":
		r.store.Apply(store.NoticeSet{Notice: store.Notice{
			Kind:    store.NoticeConnection,
			Message: "connection lost, reconnecting",
		}})
	case "rt.auth_failed":
		r.store.Apply(store.NoticeSet{Notice: store.Notice{
			Kind:    store.NoticeAuth,
			Message: "session expired, sign in again",
		}})
	}
}

// Send creates an optimistic message in the active conversation and
// pushes it down both paths: the realtime channel for latency, REST for
// durability. The REST response (or a channel ack racing it) confirms
// the entry; a REST error marks it failed in place.
func (r *Reconciler) Send(ctx context.Context, content chat.Content) error {
	conv, ok := r.store.Active()
	if !ok {
		return errors.New("no active conversation")
	}

	msg := chat.Message{
		CorrelationID:  chat.NewCorrelationID(),
		ConversationID: conv.ID,
		SenderID:       r.selfID,
		Content:        content,
		Status:         chat.StatusSent,
		CreatedAt:      time.Now().UnixMilli(),
	}
	out := transport.OutboundMessage{
		ClientMessageID: msg.CorrelationID,
		Content:         content,
	}
	req := rest.SendMessageRequest{
		Content:         content,
		ClientMessageID: msg.CorrelationID,
	}
	if conv.IsGroup {
		msg.GroupID = conv.GroupID
		out.GroupID = conv.GroupID
		req.GroupID = conv.GroupID
	} else {
		msg.ReceiverID = conv.Peer.ID
		out.ReceiverID = conv.Peer.ID
		req.ReceiverPhone = conv.Peer.Phone
	}

	r.store.Apply(store.LocalInsert{Message: msg})

	// Channel failure alone is not an error: the REST path is the
	// durable one and the channel reconnects on its own.
	if err := r.channel.Send(out); err != nil {
		r.logger.Debug("channel send skipped", zap.Error(err), zap.String("correlation_id", msg.CorrelationID))
	}

	confirmed, err := r.backend.SendMessage(ctx, req)
	if err != nil {
		if errors.Is(err, rest.ErrUnauthorized) {
			r.store.Apply(store.NoticeSet{Notice: store.Notice{
				Kind:    store.NoticeAuth,
				Message: "session expired, sign in again",
			}})
		}
		r.store.Apply(store.SendFailed{ConversationID: conv.ID, CorrelationID: msg.CorrelationID})
		r.logger.Warn("message send failed", zap.Error(err), zap.String("correlation_id", msg.CorrelationID))
		return fmt.Errorf("send message: %w", err)
	}

	r.store.Apply(store.Confirm{
		ConversationID: conv.ID,
		CorrelationID:  msg.CorrelationID,
		Message:        confirmed,
	})
	return nil
}

// HandleInbound merges one inbound channel event into the store.
func (r *Reconciler) HandleInbound(ctx context.Context, msg chat.Message) {
	// A known correlation id means this is the server copy of a message
	// we sent: confirm the pending entry, never insert a second one.
	if msg.CorrelationID != "" {
		if convID, ok := r.store.PendingConversation(msg.CorrelationID); ok {
			r.store.Apply(store.Confirm{
				ConversationID: convID,
				CorrelationID:  msg.CorrelationID,
				Message:        msg,
			})
			return
		}
	}

	convID, ok := r.resolveConversation(ctx, msg)
	if !ok {
		// Cannot be attributed even after a refetch; dropping is the
		// documented behavior, not silent duplication elsewhere.
		r.logger.Warn("dropping unattributable event",
			zap.Int64("sender_id", msg.SenderID),
			zap.Int64("group_id", msg.GroupID),
			zap.Int64("server_id", msg.ID))
		return
	}

	msg.ConversationID = convID
	r.store.Apply(store.RemoteMessage{Message: msg, Own: msg.SenderID == r.selfID})
}

// resolveConversation maps an inbound event to a local conversation:
// explicit conversation id first, then the group or peer index, then a
// single conversation-list refetch.
func (r *Reconciler) resolveConversation(ctx context.Context, msg chat.Message) (int64, bool) {
	if msg.ConversationID != 0 {
		if _, known := r.store.Conversation(msg.ConversationID); !known {
			// First event referencing an unseen conversation; refetch
			// to materialize its record.
			r.refetchConversations(ctx)
		}
		return msg.ConversationID, true
	}

	if msg.GroupID != 0 {
		if active, ok := r.store.Active(); ok && active.IsGroup && active.GroupID == msg.GroupID {
			return active.ID, true
		}
		if id, ok := r.index.group(msg.GroupID); ok {
			return id, true
		}
		if !r.refetchConversations(ctx) {
			return 0, false
		}
		return r.index.group(msg.GroupID)
	}

	// Direct message: the sender is the other participant. Our own id
	// here means an echo of a message sent from another flow.
	if msg.SenderID == r.selfID {
		return 0, false
	}
	if id, ok := r.index.peer(msg.SenderID); ok {
		return id, true
	}
	if !r.refetchConversations(ctx) {
		return 0, false
	}
	return r.index.peer(msg.SenderID)
}

// refetchConversations pulls the conversation list, replaces the store
// copy, and rebuilds the resolution index.
func (r *Reconciler) refetchConversations(ctx context.Context) bool {
	convs, err := r.backend.Conversations(ctx)
	if err != nil {
		r.logger.Warn("conversation refetch failed", zap.Error(err))
		return false
	}
	r.store.Apply(store.ConversationsLoaded{Conversations: convs})
	r.index.rebuild(convs)
	return true
}

// LoadConversations fetches the conversation list at startup or on
// explicit refresh.
func (r *Reconciler) LoadConversations(ctx context.Context) error {
	r.store.Apply(store.LoadingSet{Loading: true})
	defer r.store.Apply(store.LoadingSet{Loading: false})

	convs, err := r.backend.Conversations(ctx)
	if err != nil {
		if errors.Is(err, rest.ErrUnauthorized) {
			r.store.Apply(store.NoticeSet{Notice: store.Notice{
				Kind:    store.NoticeAuth,
				Message: "session expired, sign in again",
			}})
		}
		return err
	}
	r.store.Apply(store.ConversationsLoaded{Conversations: convs})
	r.index.rebuild(convs)
	return nil
}

// OpenConversation makes conv the active conversation and loads its
// history. The full object is passed through so locally-known
// participant details survive.
func (r *Reconciler) OpenConversation(ctx context.Context, conv chat.Conversation) error {
	r.store.Apply(store.ActiveChanged{Conversation: conv})
	r.index.note(conv)

	var (
		msgs []chat.Message
		err  error
	)
	if conv.IsGroup {
		msgs, err = r.backend.GroupMessages(ctx, conv.GroupID)
	} else {
		msgs, err = r.backend.ConversationMessages(ctx, conv.ID)
	}
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	r.store.Apply(store.MessagesLoaded{ConversationID: conv.ID, Messages: msgs})
	return nil
}

// SignOut wipes all conversation and message state.
func (r *Reconciler) SignOut() {
	r.index.clear()
	r.store.Apply(store.Cleared{})
}

func (r *Reconciler) handleMessageError(msgErr transport.MessageError) {
	convID, ok := r.store.PendingConversation(msgErr.ClientMessageID)
	if !ok {
		return
	}
	r.logger.Warn("channel reported message error",
		zap.String("correlation_id", msgErr.ClientMessageID),
		zap.String("reason", msgErr.Reason))
	r.store.Apply(store.SendFailed{ConversationID: convID, CorrelationID: msgErr.ClientMessageID})
}
