package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/loomchat/loom/internal/chat"
	"github.com/loomchat/loom/internal/tui/keys"
	"github.com/loomchat/loom/internal/tui/model"
	"github.com/loomchat/loom/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	registry  *keys.Registry
	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.MessageThread
	composer  *views.Composer
	searchV   *views.SearchView
	cmdInput  *tview.InputField
	root      *tview.Flex
	logger    *zap.Logger
	onSignOut func()
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application. onSignOut runs after local state
// is wiped so the caller can clear the stored token.
func NewApp(vm *model.ViewModel, profileName string, logger *zap.Logger, onSignOut func()) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		thread:    views.NewMessageThread(vm.SelfID()),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		logger:    logger,
		onSignOut: onSignOut,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddGlobal(&keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: ":cmd", Visible: true,
		Handler: func() { a.showCommand() },
	})
	a.registry.AddPage("conversations", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() {
			go func() {
				if err := a.vm.Reload(a.ctx); err != nil {
					a.vm.Flash.Set("Refresh failed: "+err.Error(), 5*time.Second)
				}
			}()
		},
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if conv, ok := a.convList.Selected(); ok {
			a.openConversation(conv)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.SendText(a.ctx, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
			}
			a.redraw()
		}()
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.Search(query, 0)
			if err != nil {
				a.vm.Flash.Set("Search failed: "+err.Error(), 5*time.Second)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		convID, ok := a.searchV.Selected()
		if !ok {
			return
		}
		for _, conv := range a.vm.Conversations() {
			if conv.ID == convID {
				a.openConversation(conv)
				return
			}
		}
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("thread", threadFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)

	a.cmdInput = tview.NewInputField().
		SetLabel(" : ").
		SetFieldWidth(0)
	a.cmdInput.SetDoneFunc(func(key tcell.Key) {
		text := a.cmdInput.GetText()
		a.cmdInput.SetText("")
		a.hideCommand()
		if key == tcell.KeyEnter && text != "" {
			a.runCommand(ParseCommand(text))
		}
	})

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "thread", "search":
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already typing).
		if currentPage == "thread" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "dm":
		go func() {
			if err := a.vm.StartDirect(a.ctx, cmd.Args); err != nil {
				a.vm.Flash.Set("dm failed: "+err.Error(), 5*time.Second)
				a.redraw()
				return
			}
			a.showThread()
		}()
	case "group":
		go func() {
			if err := a.vm.CreateGroup(a.ctx, cmd.Args); err != nil {
				a.vm.Flash.Set("group failed: "+err.Error(), 5*time.Second)
				a.redraw()
				return
			}
			a.showThread()
		}()
	case "signout":
		a.vm.SignOut()
		if a.onSignOut != nil {
			a.onSignOut()
		}
		a.app.Stop()
	case "quit", "q":
		a.app.Stop()
	default:
		a.vm.Flash.Set("unknown command: "+cmd.Name, 3*time.Second)
	}
}

func (a *App) openConversation(conv chat.Conversation) {
	go func() {
		if err := a.vm.Open(a.ctx, conv); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), 5*time.Second)
			a.redraw()
			return
		}
		a.showThread()
	}()
}

// showThread switches to the thread page for the active conversation.
func (a *App) showThread() {
	a.app.QueueUpdateDraw(func() {
		if conv, ok := a.vm.Active(); ok {
			a.thread.SetConversation(conv)
		}
		a.thread.Update(a.vm.ActiveMessages())
		a.pages.SwitchToPage("thread")
		a.app.SetFocus(a.composer.InputField)
	})
}

func (a *App) showSearch() {
	a.pages.SwitchToPage("search")
	a.app.SetFocus(a.searchV.Input())
}

func (a *App) showCommand() {
	a.root.RemoveItem(a.statusBar)
	a.root.AddItem(a.cmdInput, 1, 0, false)
	a.app.SetFocus(a.cmdInput)
}

func (a *App) hideCommand() {
	a.root.RemoveItem(a.cmdInput)
	a.root.AddItem(a.statusBar, 1, 0, false)
	a.pages.SwitchToPage("conversations")
	a.app.SetFocus(a.convList)
}

// redraw refreshes the views backing the current page.
func (a *App) redraw() {
	a.app.QueueUpdateDraw(func() {
		currentPage, _ := a.pages.GetFrontPage()
		switch currentPage {
		case "conversations":
			a.convList.Update(a.vm.Conversations())
		case "thread":
			if conv, ok := a.vm.Active(); ok {
				a.thread.SetConversation(conv)
			}
			a.thread.Update(a.vm.ActiveMessages())
		}

		state := string(a.vm.ConnectionState())
		if a.vm.Loading() {
			state += " ~"
		}
		a.statusBar.SetState(state)
		if n, ok := a.vm.Notice(); ok {
			a.statusBar.SetNotice(n.Message)
		} else {
			a.statusBar.SetNotice("")
		}
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.vm.Start(a.ctx)

	go func() {
		if err := a.vm.Reload(a.ctx); err != nil {
			a.vm.Flash.Set("Load failed: "+err.Error(), 5*time.Second)
			a.logger.Warn("initial conversation load failed", zap.Error(err))
		}
		a.redraw()
		a.startRefreshLoop()
	}()

	defer a.vm.Stop()
	return a.app.Run()
}

// startRefreshLoop redraws whenever the store changes, with a slow tick
// for the clock and flash expiry.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-a.vm.RefreshCh():
				a.redraw()
			case <-ticker.C:
				a.redraw()
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
