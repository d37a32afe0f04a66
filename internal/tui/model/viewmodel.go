package model

import (
	"context"
	"fmt"

	"github.com/loomchat/loom/internal/archive"
	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/reconcile"
	"github.com/loomchat/loom/internal/rest"
	"github.com/loomchat/loom/internal/status"
	"github.com/loomchat/loom/internal/store"
)

// ViewModel is the read surface the views render from. All state lives
// in the store; the view model only translates intents into reconciler
// and backend calls and coalesces bus events into refresh signals.
type ViewModel struct {
	store   *store.Store
	rec     *reconcile.Reconciler
	api     *rest.Client
	history *archive.DB
	bus     *bus.Bus
	machine *status.Machine
	selfID  int64
	Flash   Flash

	refreshCh chan struct{}
	cancel    context.CancelFunc
}

func NewViewModel(s *store.Store, rec *reconcile.Reconciler, api *rest.Client, history *archive.DB, b *bus.Bus, machine *status.Machine, selfID int64) *ViewModel {
	return &ViewModel{
		store:     s,
		rec:       rec,
		api:       api,
		history:   history,
		bus:       b,
		machine:   machine,
		selfID:    selfID,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals a UI refresh. Signals are
// coalesced: a slow consumer sees at least one.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

// Start forwards every bus event into the refresh channel.
func (vm *ViewModel) Start(ctx context.Context) {
	ctx, vm.cancel = context.WithCancel(ctx)
	ch, unsub := vm.bus.Subscribe("", 64)
	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				select {
				case vm.refreshCh <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (vm *ViewModel) Stop() {
	if vm.cancel != nil {
		vm.cancel()
	}
}

// SelfID returns the authenticated user's id.
func (vm *ViewModel) SelfID() int64 { return vm.selfID }

// ConnectionState returns the realtime channel state.
func (vm *ViewModel) ConnectionState() status.State {
	return vm.machine.Current()
}

// Conversations returns the conversation list, most recent first.
func (vm *ViewModel) Conversations() []chat.Conversation {
	return vm.store.Conversations()
}

// Active returns the open conversation.
func (vm *ViewModel) Active() (chat.Conversation, bool) {
	return vm.store.Active()
}

// ActiveMessages returns the open conversation's messages.
func (vm *ViewModel) ActiveMessages() []chat.Message {
	conv, ok := vm.store.Active()
	if !ok {
		return nil
	}
	return vm.store.Messages(conv.ID)
}

// Notice returns the current session notice, if any.
func (vm *ViewModel) Notice() (store.Notice, bool) {
	return vm.store.Notice()
}

// Loading reports whether a conversation-list fetch is in flight.
func (vm *ViewModel) Loading() bool {
	return vm.store.Loading()
}

// SendText sends a text message to the active conversation.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	return vm.rec.Send(ctx, chat.TextContent(text))
}

// Open makes conv the active conversation and loads its history.
func (vm *ViewModel) Open(ctx context.Context, conv chat.Conversation) error {
	return vm.rec.OpenConversation(ctx, conv)
}

// Reload refetches the conversation list.
func (vm *ViewModel) Reload(ctx context.Context) error {
	return vm.rec.LoadConversations(ctx)
}

// Search runs a full-text query over the local history archive.
func (vm *ViewModel) Search(query string, conversationID int64) ([]archive.SearchResult, error) {
	return vm.history.SearchMessages(query, conversationID, 50)
}

// StartDirect creates (or reopens) the direct conversation with the
// given phone number and makes it active.
func (vm *ViewModel) StartDirect(ctx context.Context, phone string) error {
	conv, err := vm.api.CreateDirectConversation(ctx, phone)
	if err != nil {
		return fmt.Errorf("start direct conversation: %w", err)
	}
	return vm.rec.OpenConversation(ctx, conv)
}

// CreateGroup creates a new group conversation and makes it active.
func (vm *ViewModel) CreateGroup(ctx context.Context, name string) error {
	conv, err := vm.api.CreateGroup(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return vm.rec.OpenConversation(ctx, conv)
}

// SignOut wipes in-memory session state. The caller clears the token.
func (vm *ViewModel) SignOut() {
	vm.rec.SignOut()
}
