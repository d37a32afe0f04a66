package store

import (
	"sort"
	"sync"
	"time"

	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
)

// Store is the authoritative in-memory holder of conversations,
// per-conversation message lists, the active conversation pointer, and
// request/notice flags. The view reads through accessors only; all
// writes go through Apply, one event at a time, so no partial update is
// ever observable.
type Store struct {
	mu  sync.Mutex
	bus *bus.Bus

	conversations map[int64]*chat.Conversation
	messages      map[int64][]chat.Message
	// pending maps live correlation ids to their conversation, so an
	// inbound event carrying a known correlation id can be routed
	// without conversation resolution. Entries survive confirmation to
	// keep duplicate delivery idempotent.
	pending map[string]int64

	active  *chat.Conversation
	loading bool
	notice  *Notice
}

// New creates an empty store publishing mutation events on b.
func New(b *bus.Bus) *Store {
	s := &Store{bus: b}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.conversations = make(map[int64]*chat.Conversation)
	s.messages = make(map[int64][]chat.Message)
	s.pending = make(map[string]int64)
	s.active = nil
	s.loading = false
	s.notice = nil
}

// Apply executes one state transition. Transitions are serialized: each
// event is processed to completion before the next, which is the only
// concurrency guarantee the merge logic relies on.
func (s *Store) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case LocalInsert:
		s.applyLocalInsert(e)
	case Confirm:
		s.applyConfirm(e)
	case SendFailed:
		s.applySendFailed(e)
	case RemoteMessage:
		s.applyRemote(e)
	case MessagesLoaded:
		s.applyMessagesLoaded(e)
	case ConversationsLoaded:
		s.applyConversationsLoaded(e)
	case ConversationUpserted:
		s.upsertConversation(e.Conversation)
		s.publish("conversation.updated", e.Conversation)
	case ActiveChanged:
		s.applyActiveChanged(e)
	case LoadingSet:
		s.loading = e.Loading
	case NoticeSet:
		n := e.Notice
		s.notice = &n
		s.publish("session.notice", n)
	case NoticeCleared:
		s.notice = nil
	case Cleared:
		s.reset()
		s.publish("session.cleared", nil)
	}
}

func (s *Store) applyLocalInsert(e LocalInsert) {
	msg := e.Message
	if msg.CorrelationID == "" || msg.ConversationID == 0 {
		return
	}
	if _, ok := s.findByCorrelation(msg.ConversationID, msg.CorrelationID); ok {
		return
	}
	s.insertSorted(msg.ConversationID, msg)
	s.pending[msg.CorrelationID] = msg.ConversationID
	s.publish("message.inserted", msg)
}

func (s *Store) applyConfirm(e Confirm) {
	idx, ok := s.findByCorrelation(e.ConversationID, e.CorrelationID)
	if !ok {
		// Confirmation for an entry we never inserted (or that was
		// cleared). Fall back to an idempotent insert by server id.
		if e.Message.ID != 0 && !s.hasServerID(e.ConversationID, e.Message.ID) {
			msg := e.Message
			msg.ConversationID = e.ConversationID
			msg.CorrelationID = e.CorrelationID
			s.insertSorted(e.ConversationID, msg)
			s.publish("message.confirmed", msg)
		}
		return
	}

	list := s.messages[e.ConversationID]
	if list[idx].Confirmed() {
		// Already confirmed; a later duplicate must not regress status
		// or duplicate the entry.
		return
	}

	// Later-arriving confirmation wins wholesale: server id,
	// authoritative timestamp, status.
	msg := e.Message
	msg.ConversationID = e.ConversationID
	msg.CorrelationID = e.CorrelationID
	list[idx] = msg
	s.resort(e.ConversationID)
	s.publish("message.confirmed", msg)
}

func (s *Store) applySendFailed(e SendFailed) {
	idx, ok := s.findByCorrelation(e.ConversationID, e.CorrelationID)
	if !ok {
		return
	}
	list := s.messages[e.ConversationID]
	if list[idx].Confirmed() {
		// A confirmation beat the failure report; confirmation wins.
		return
	}
	list[idx].Status = chat.StatusFailed
	s.publish("message.failed", list[idx])
}

func (s *Store) applyRemote(e RemoteMessage) {
	msg := e.Message
	if msg.ConversationID == 0 {
		return
	}
	if msg.ID != 0 && s.hasServerID(msg.ConversationID, msg.ID) {
		return
	}
	if msg.CorrelationID != "" {
		if _, ok := s.findByCorrelation(msg.ConversationID, msg.CorrelationID); ok {
			// The push is the confirmation of a local entry.
			s.applyConfirm(Confirm{
				ConversationID: msg.ConversationID,
				CorrelationID:  msg.CorrelationID,
				Message:        msg,
			})
			return
		}
	}

	s.insertSorted(msg.ConversationID, msg)
	s.publish("message.remote", msg)

	if e.Own {
		return
	}

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return
	}
	if msg.CreatedAt >= conv.LastMessage.At {
		conv.LastMessage = chat.LastMessage{
			Preview:  msg.Content.Preview(),
			SenderID: msg.SenderID,
			At:       msg.CreatedAt,
		}
	}
	if s.active == nil || s.active.ID != conv.ID {
		conv.UnreadCount++
	}
	s.publish("conversation.updated", *conv)
}

func (s *Store) applyMessagesLoaded(e MessagesLoaded) {
	// Keep local entries the server cannot know about yet.
	var keep []chat.Message
	for _, m := range s.messages[e.ConversationID] {
		if !m.Confirmed() {
			keep = append(keep, m)
		}
	}

	fresh := make([]chat.Message, 0, len(e.Messages)+len(keep))
	seen := make(map[int64]bool, len(e.Messages))
	seenCorr := make(map[string]bool, len(e.Messages))
	for _, m := range e.Messages {
		if m.ID != 0 && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.CorrelationID != "" {
			seenCorr[m.CorrelationID] = true
		}
		m.ConversationID = e.ConversationID
		fresh = append(fresh, m)
	}
	for _, m := range keep {
		if m.CorrelationID != "" && seenCorr[m.CorrelationID] {
			continue
		}
		fresh = append(fresh, m)
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt < fresh[j].CreatedAt
	})
	s.messages[e.ConversationID] = fresh
	s.publish("message.loaded", e.ConversationID)
}

func (s *Store) applyConversationsLoaded(e ConversationsLoaded) {
	// Refetch replaces the list wholesale; client-side deletion does
	// not exist.
	s.conversations = make(map[int64]*chat.Conversation, len(e.Conversations))
	for _, c := range e.Conversations {
		cc := c
		s.conversations[c.ID] = &cc
	}
	// The active pointer keeps its full object even if the refetch no
	// longer lists it, but adopts the fresh record when present.
	if s.active != nil {
		if cc, ok := s.conversations[s.active.ID]; ok {
			cc.UnreadCount = 0
			copied := *cc
			s.active = &copied
		}
	}
	s.publish("conversation.loaded", e.Conversations)
}

func (s *Store) applyActiveChanged(e ActiveChanged) {
	conv := e.Conversation
	if existing, ok := s.conversations[conv.ID]; ok {
		existing.UnreadCount = 0
		// Adopt locally-known peer details the backend copy may lack.
		if existing.Peer.Phone == "" {
			existing.Peer.Phone = conv.Peer.Phone
		}
		copied := *existing
		s.active = &copied
	} else {
		conv.UnreadCount = 0
		s.upsertConversation(conv)
		copied := conv
		s.active = &copied
	}
	s.publish("conversation.active", *s.active)
}

func (s *Store) upsertConversation(c chat.Conversation) {
	cc := c
	s.conversations[c.ID] = &cc
}

// --- accessors ---

// Conversations returns all conversations sorted by recency.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessage.At != out[j].LastMessage.At {
			return out[i].LastMessage.At > out[j].LastMessage.At
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation returns a conversation by id.
func (s *Store) Conversation(id int64) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return *c, true
}

// Messages returns a copy of the message list for a conversation,
// ordered by creation timestamp.
func (s *Store) Messages(conversationID int64) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	out := make([]chat.Message, len(list))
	copy(out, list)
	return out
}

// Active returns the open conversation, or false when none is open.
func (s *Store) Active() (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return chat.Conversation{}, false
	}
	return *s.active, true
}

// PendingConversation maps a correlation id to the conversation its
// optimistic entry lives in.
func (s *Store) PendingConversation(correlationID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[correlationID]
	return id, ok
}

// Loading reports whether a request is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Notice returns the current banner notice, if any.
func (s *Store) Notice() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice == nil {
		return Notice{}, false
	}
	return *s.notice, true
}

// --- internals (callers hold s.mu) ---

func (s *Store) findByCorrelation(conversationID int64, correlationID string) (int, bool) {
	for i, m := range s.messages[conversationID] {
		if m.CorrelationID != "" && m.CorrelationID == correlationID {
			return i, true
		}
	}
	return 0, false
}

func (s *Store) hasServerID(conversationID, serverID int64) bool {
	for _, m := range s.messages[conversationID] {
		if m.ID == serverID {
			return true
		}
	}
	return false
}

func (s *Store) insertSorted(conversationID int64, msg chat.Message) {
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.resort(conversationID)
}

func (s *Store) resort(conversationID int64) {
	list := s.messages[conversationID]
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt < list[j].CreatedAt
	})
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, At: time.Now(), Payload: payload})
}
