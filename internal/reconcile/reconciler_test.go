package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/rest"
	"github.com/loomchat/loom/internal/store"
	"github.com/loomchat/loom/internal/transport"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu       sync.Mutex
	convs    []chat.Conversation
	history  map[int64][]chat.Message
	sendResp chat.Message
	sendErr  error
	fetches  int
}

func (f *fakeBackend) Conversations(_ context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.convs, nil
}

func (f *fakeBackend) ConversationMessages(_ context.Context, id int64) ([]chat.Message, error) {
	return f.history[id], nil
}

func (f *fakeBackend) GroupMessages(_ context.Context, id int64) ([]chat.Message, error) {
	return f.history[-id], nil
}

func (f *fakeBackend) SendMessage(_ context.Context, req rest.SendMessageRequest) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.Message{}, f.sendErr
	}
	resp := f.sendResp
	resp.CorrelationID = req.ClientMessageID
	resp.Content = req.Content
	return resp, nil
}

func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeChannel struct {
	mu    sync.Mutex
	sends []transport.OutboundMessage
	err   error
}

func (f *fakeChannel) Send(out transport.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, out)
	return nil
}

const selfID = int64(1)

func newFixture(convs ...chat.Conversation) (*Reconciler, *store.Store, *fakeBackend, *fakeChannel) {
	s := store.New(bus.New())
	backend := &fakeBackend{convs: convs, history: make(map[int64][]chat.Message)}
	channel := &fakeChannel{}
	r := New(s, backend, channel, bus.New(), selfID, zap.NewNop())
	for _, c := range convs {
		s.Apply(store.ConversationUpserted{Conversation: c})
		r.index.note(c)
	}
	return r, s, backend, channel
}

func direct(id int64, peer chat.Peer) chat.Conversation {
	return chat.Conversation{ID: id, Peer: peer}
}

func group(id, groupID int64, name string) chat.Conversation {
	return chat.Conversation{ID: id, IsGroup: true, GroupID: groupID, Name: name}
}

func TestSendConfirmedByREST(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42, Name: "Sam", Phone: "+15550100"})
	r, s, backend, channel := newFixture(conv)
	backend.sendResp = chat.Message{ID: 501, SenderID: selfID, Status: chat.StatusStored, CreatedAt: 1100}
	s.Apply(store.ActiveChanged{Conversation: conv})

	if err := r.Send(context.Background(), chat.TextContent("hi")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := s.Messages(7)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != 501 || m.Status != chat.StatusStored || m.Content.Text != "hi" {
		t.Errorf("message = %+v, want id=501 status=stored text=hi", m)
	}

	// Both paths were attempted.
	if len(channel.sends) != 1 {
		t.Errorf("channel sends = %d, want 1", len(channel.sends))
	}
	if channel.sends[0].ReceiverID != 42 {
		t.Errorf("channel receiver = %d, want 42", channel.sends[0].ReceiverID)
	}
}

func TestSendRESTFailureMarksFailed(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42, Phone: "+15550100"})
	r, s, backend, _ := newFixture(conv)
	backend.sendErr = errors.New("connection refused")
	s.Apply(store.ActiveChanged{Conversation: conv})

	if err := r.Send(context.Background(), chat.TextContent("hi")); err == nil {
		t.Fatal("Send() expected error")
	}

	msgs := s.Messages(7)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (failed entry stays visible)", len(msgs))
	}
	if msgs[0].Status != chat.StatusFailed {
		t.Errorf("status = %s, want failed", msgs[0].Status)
	}
}

func TestSendChannelDownStillConfirms(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42, Phone: "+15550100"})
	r, s, backend, channel := newFixture(conv)
	backend.sendResp = chat.Message{ID: 501, SenderID: selfID, Status: chat.StatusStored, CreatedAt: 1100}
	channel.err = transport.ErrNotConnected
	s.Apply(store.ActiveChanged{Conversation: conv})

	if err := r.Send(context.Background(), chat.TextContent("hi")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := s.Messages(7)[0].Status; got != chat.StatusStored {
		t.Errorf("status = %s, want stored (REST path is durable)", got)
	}
}

func TestSendWithoutActiveConversation(t *testing.T) {
	r, _, _, _ := newFixture()
	if err := r.Send(context.Background(), chat.TextContent("hi")); err == nil {
		t.Fatal("Send() expected error with no active conversation")
	}
}

func TestPushAfterConfirmIsNoOp(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42, Phone: "+15550100"})
	r, s, backend, _ := newFixture(conv)
	backend.sendResp = chat.Message{ID: 501, SenderID: selfID, Status: chat.StatusStored, CreatedAt: 1100}
	s.Apply(store.ActiveChanged{Conversation: conv})

	if err := r.Send(context.Background(), chat.TextContent("hi")); err != nil {
		t.Fatal(err)
	}
	corr := s.Messages(7)[0].CorrelationID

	// The channel now echoes the server copy with the same correlation id.
	r.HandleInbound(context.Background(), chat.Message{
		ID: 501, CorrelationID: corr, SenderID: selfID,
		Content: chat.TextContent("hi"), Status: chat.StatusDelivered, CreatedAt: 1100,
	})

	msgs := s.Messages(7)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != chat.StatusStored {
		t.Errorf("status = %s, want stored (no regression from late push)", msgs[0].Status)
	}
}

func TestPushBeforeRESTConfirms(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42, Phone: "+15550100"})
	r, s, _, _ := newFixture(conv)
	s.Apply(store.ActiveChanged{Conversation: conv})

	// Optimistic entry exists; the channel ack overtakes the REST
	// response.
	msg := chat.Message{
		CorrelationID: "c-1", ConversationID: 7, SenderID: selfID,
		Content: chat.TextContent("hi"), Status: chat.StatusSent, CreatedAt: 1000,
	}
	s.Apply(store.LocalInsert{Message: msg})

	r.HandleInbound(context.Background(), chat.Message{
		ID: 501, CorrelationID: "c-1", SenderID: selfID,
		Content: chat.TextContent("hi"), Status: chat.StatusDelivered, CreatedAt: 1050,
	})

	msgs := s.Messages(7)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != 501 || msgs[0].Status != chat.StatusDelivered {
		t.Errorf("message = %+v, want channel ack applied", msgs[0])
	}
}

func TestInboundGroupMessageForActiveConversation(t *testing.T) {
	g := group(9, 3, "platform-team")
	r, s, backend, _ := newFixture(g)
	s.Apply(store.ActiveChanged{Conversation: g})

	r.HandleInbound(context.Background(), chat.Message{
		ID: 700, GroupID: 3, SenderID: 55,
		Content: chat.TextContent("standup?"), Status: chat.StatusDelivered, CreatedAt: 2000,
	})

	if len(s.Messages(9)) != 1 {
		t.Fatal("message not appended to active group conversation")
	}
	c, _ := s.Conversation(9)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for the open conversation", c.UnreadCount)
	}
	if backend.fetchCount() != 0 {
		t.Errorf("refetches = %d, want 0 (active conversation matched directly)", backend.fetchCount())
	}
}

func TestInboundGroupMessageResolvedViaRefetch(t *testing.T) {
	r, s, backend, _ := newFixture()
	backend.convs = []chat.Conversation{group(9, 3, "platform-team")}

	r.HandleInbound(context.Background(), chat.Message{
		ID: 700, GroupID: 3, SenderID: 55,
		Content: chat.TextContent("standup?"), CreatedAt: 2000,
	})

	if backend.fetchCount() != 1 {
		t.Errorf("refetches = %d, want 1", backend.fetchCount())
	}
	if len(s.Messages(9)) != 1 {
		t.Fatal("message not inserted after refetch resolution")
	}
	c, _ := s.Conversation(9)
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}
}

func TestInboundGroupMessageUnresolvableIsDropped(t *testing.T) {
	r, s, backend, _ := newFixture(group(9, 3, "platform-team"))
	backend.convs = []chat.Conversation{group(9, 3, "platform-team")}

	r.HandleInbound(context.Background(), chat.Message{
		ID: 800, GroupID: 99, SenderID: 55,
		Content: chat.TextContent("??"), CreatedAt: 2000,
	})

	// No list anywhere may have been mutated.
	for _, c := range s.Conversations() {
		if n := len(s.Messages(c.ID)); n != 0 {
			t.Errorf("conversation %d has %d messages, want 0", c.ID, n)
		}
	}
}

func TestInboundDirectResolvedViaIndex(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42, Name: "Sam"})
	r, s, backend, _ := newFixture(conv)

	r.HandleInbound(context.Background(), chat.Message{
		ID: 600, SenderID: 42,
		Content: chat.TextContent("hey"), Status: chat.StatusDelivered, CreatedAt: 2000,
	})

	if len(s.Messages(7)) != 1 {
		t.Fatal("message not routed to peer's conversation")
	}
	if backend.fetchCount() != 0 {
		t.Errorf("refetches = %d, want 0 (index hit)", backend.fetchCount())
	}
}

func TestInboundDirectUnknownPeerRefetches(t *testing.T) {
	r, s, backend, _ := newFixture()
	backend.convs = []chat.Conversation{direct(11, chat.Peer{ID: 43, Name: "Lee"})}

	r.HandleInbound(context.Background(), chat.Message{
		ID: 601, SenderID: 43,
		Content: chat.TextContent("hello"), CreatedAt: 2100,
	})

	if backend.fetchCount() != 1 {
		t.Errorf("refetches = %d, want 1", backend.fetchCount())
	}
	if len(s.Messages(11)) != 1 {
		t.Fatal("message not inserted into refetched conversation")
	}
}

func TestOwnEchoDiscarded(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42})
	r, s, backend, _ := newFixture(conv)

	// Direct message from our own id with no known correlation id: an
	// echo of a message sent from another flow.
	r.HandleInbound(context.Background(), chat.Message{
		ID: 900, SenderID: selfID,
		Content: chat.TextContent("echo"), CreatedAt: 2000,
	})

	if n := len(s.Messages(7)); n != 0 {
		t.Errorf("got %d messages, want 0 (echo discarded)", n)
	}
	if backend.fetchCount() != 0 {
		t.Errorf("refetches = %d, want 0 (echo short-circuits)", backend.fetchCount())
	}
}

func TestDuplicateInboundDelivery(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42})
	r, s, _, _ := newFixture(conv)

	msg := chat.Message{
		ID: 600, SenderID: 42,
		Content: chat.TextContent("hey"), Status: chat.StatusDelivered, CreatedAt: 2000,
	}
	r.HandleInbound(context.Background(), msg)
	r.HandleInbound(context.Background(), msg)

	if n := len(s.Messages(7)); n != 1 {
		t.Errorf("got %d messages, want 1 (idempotent on server id)", n)
	}
	c, _ := s.Conversation(7)
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (second delivery must not double-count)", c.UnreadCount)
	}
}

func TestMessageErrorMarksPendingFailed(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42})
	r, s, _, _ := newFixture(conv)

	s.Apply(store.LocalInsert{Message: chat.Message{
		CorrelationID: "c-5", ConversationID: 7, SenderID: selfID,
		Content: chat.TextContent("hi"), Status: chat.StatusSent, CreatedAt: 1000,
	}})

	r.handleMessageError(transport.MessageError{ClientMessageID: "c-5", Reason: "receiver offline"})

	if got := s.Messages(7)[0].Status; got != chat.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestOpenConversationLoadsHistory(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42})
	r, s, backend, _ := newFixture(conv)
	backend.history[7] = []chat.Message{
		{ID: 500, SenderID: 42, Content: chat.TextContent("old"), Status: chat.StatusRead, CreatedAt: 900},
	}

	if err := r.OpenConversation(context.Background(), conv); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}

	if _, ok := s.Active(); !ok {
		t.Fatal("no active conversation after open")
	}
	if len(s.Messages(7)) != 1 {
		t.Error("history not loaded")
	}
}

func TestSignOutClearsStoreAndIndex(t *testing.T) {
	conv := direct(7, chat.Peer{ID: 42})
	r, s, _, _ := newFixture(conv)

	r.SignOut()

	if n := len(s.Conversations()); n != 0 {
		t.Errorf("conversations = %d, want 0", n)
	}
	if _, ok := r.index.peer(42); ok {
		t.Error("peer index survived sign-out")
	}
}

func TestConnectionEventsDriveNotices(t *testing.T) {
	r, s, _, _ := newFixture()

	r.handleEvent(context.Background(), bus.Event{Kind: "rt.disconnected"})
	n, ok := s.Notice()
	if !ok || n.Kind != store.NoticeConnection {
		t.Fatalf("notice = %+v ok=%v, want connection notice", n, ok)
	}

	r.handleEvent(context.Background(), bus.Event{Kind: "rt.connected"})
	if _, ok := s.Notice(); ok {
		t.Error("notice not cleared on reconnect")
	}

	r.handleEvent(context.Background(), bus.Event{Kind: "rt.auth_failed"})
	n, ok = s.Notice()
	if !ok || n.Kind != store.NoticeAuth {
		t.Errorf("notice = %+v ok=%v, want auth notice", n, ok)
	}
}
