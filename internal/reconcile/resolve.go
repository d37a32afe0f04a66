package reconcile

import (
	"sync"

	"github.com/loomchat/loom/internal/chat"
)

// index maps peer and group identifiers to conversation ids so inbound
// events resolve locally instead of refetching the conversation list
// per event. It is rebuilt from every full fetch and extended
// incrementally as conversations appear.
type index struct {
	mu     sync.RWMutex
	peers  map[int64]int64
	groups map[int64]int64
}

func newIndex() *index {
	return &index{
		peers:  make(map[int64]int64),
		groups: make(map[int64]int64),
	}
}

func (ix *index) rebuild(convs []chat.Conversation) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.peers = make(map[int64]int64, len(convs))
	ix.groups = make(map[int64]int64)
	for _, c := range convs {
		ix.noteLocked(c)
	}
}

func (ix *index) note(c chat.Conversation) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.noteLocked(c)
}

func (ix *index) noteLocked(c chat.Conversation) {
	if c.IsGroup {
		if c.GroupID != 0 {
			ix.groups[c.GroupID] = c.ID
		}
		return
	}
	if c.Peer.ID != 0 {
		ix.peers[c.Peer.ID] = c.ID
	}
}

func (ix *index) peer(peerID int64) (int64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.peers[peerID]
	return id, ok
}

func (ix *index) group(groupID int64) (int64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.groups[groupID]
	return id, ok
}

func (ix *index) clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.peers = make(map[int64]int64)
	ix.groups = make(map[int64]int64)
}
