package tui

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wxm/internal/bus"
	"github.com/matheus3301/wxm/internal/status"
	"github.com/matheus3301/wxm/internal/store"
	intsync "github.com/matheus3301/wxm/internal/sync"
	"github.com/matheus3301/wxm/internal/tui/keys"
	"github.com/matheus3301/wxm/internal/tui/model"
	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/matheus3301/wxm/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageChats    = "chats"
	pageThread   = "thread"
	pageInfo     = "info"
	pageContacts = "contacts"
	pageHelp     = "help"
)

// Loop is the part of the sync loop the header reports on.
type Loop interface {
	Phase() intsync.Phase
	Stats() intsync.Stats
}

// Options configures the viewer.
type Options struct {
	Session string
	Machine *status.Machine
	Loop    Loop
	// Self returns the signed-in user once the session is initialized.
	Self    func() (store.Contact, bool)
	History int
	Logger  *zap.Logger
	// Screen replaces the terminal; used by tests.
	Screen tcell.Screen
}

// App is the terminal viewer. It is the dispatcher's consumer: callbacks
// update the roster on the dispatcher goroutine and schedule a redraw on the
// tview goroutine.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	main     *tview.Flex
	pages    *ui.Pages
	info     *ui.SessionInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	chatList *views.ConversationList
	thread   *views.MessageThread
	details  *views.ConversationInfo
	contacts *views.ContactList
	help     *views.HelpView
	registry *keys.Registry

	flash   *ui.FlashModel
	roster  *model.Roster
	opts    Options
	logger  *zap.Logger
	started time.Time

	// UI goroutine only.
	filters    map[string]string
	promptOpen bool

	pending atomic.Bool
	stopped atomic.Bool
	renders atomic.Int64
}

// NewApp creates the viewer.
func NewApp(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	theme := ui.DefaultTheme()
	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		chatList: views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		contacts: views.NewContactList(theme),
		help:     views.NewHelpView(theme),
		registry: keys.NewRegistry(),
		flash:    ui.NewFlashModel(),
		roster:   model.NewRoster(opts.History),
		opts:     opts,
		logger:   logger,
		started:  time.Now(),
		filters:  make(map[string]string),
	}
	if opts.Screen != nil {
		a.app.SetScreen(opts.Screen)
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

// SetLoop sets the loop the header reports on. Call it before Run; the loop
// is built after the viewer because the viewer is its consumer.
func (a *App) SetLoop(l Loop) { a.opts.Loop = l }

// Roster returns the viewer's model.
func (a *App) Roster() *model.Roster { return a.roster }

func (a *App) OnContactsAdded(contacts []store.Contact) {
	a.roster.UpsertChats(contacts)
	a.refresh()
}

func (a *App) OnContactsUpdated(contacts []store.Contact) {
	a.roster.UpsertChats(contacts)
	a.refresh()
}

func (a *App) OnMessagesSynced(messages []store.Message) {
	a.roster.AddMessages(messages)
	a.refresh()
}

func (a *App) OnDirectoryLoaded(contacts []store.Contact) {
	a.roster.SetDirectory(contacts)
	a.flash.Info(fmt.Sprintf("Contact directory loaded: %d contacts", len(contacts)))
	a.refresh()
}

// OnSessionEnded keeps the viewer open on what was received so far.
func (a *App) OnSessionEnded(err error) {
	a.logger.Warn("session ended, viewer frozen", zap.Error(err))
	a.flash.Err(fmt.Errorf("session ended, sync stopped: %w", err))
	a.refresh()
}

// refresh schedules a redraw. Calls made while one is queued fold into it,
// and the caller never waits for the UI goroutine. Once Run has returned
// nothing drains the queue, so nothing is scheduled.
func (a *App) refresh() {
	if a.stopped.Load() || !a.pending.CompareAndSwap(false, true) {
		return
	}
	go a.app.QueueUpdateDraw(func() {
		a.pending.Store(false)
		a.render()
	})
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':', Description: "Command", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?', Description: "Help", Visible: true,
		Handler: func() { a.show(pageHelp) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyEscape, Label: "Esc", Description: "Back",
		Handler: a.back,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Visible: true,
		Handler: func() {
			if a.pages.Current() == pageChats {
				a.app.Stop()
				return
			}
			a.back()
		},
	})

	for _, page := range []string{pageChats, pageContacts} {
		a.registry.AddView(page, &keys.Action{
			Key: tcell.KeyRune, Rune: '/', Description: "Filter", Visible: true,
			Handler: func() { a.showPrompt(ui.PromptFilter) },
		})
	}

	a.registry.AddView(pageChats, &keys.Action{
		Key: tcell.KeyEnter, Description: "Open", Visible: true,
		Handler: func() { a.openChat(a.chatList.SelectedChat(), "") },
	})
	a.registry.AddView(pageChats, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd', Description: "Details", Visible: true,
		Handler: func() { a.showDetails(a.chatList.SelectedChat()) },
	})
	a.registry.AddView(pageChats, &keys.Action{
		Key: tcell.KeyRune, Rune: 'c', Description: "Contacts", Visible: true,
		Handler: func() { a.show(pageContacts) },
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageChats, &keys.Action{
			Key: tcell.KeyRune, Rune: rune('0' + n), Label: "1-9", Description: "Jump",
			Visible: n == 1,
			Handler: func() { a.openChat(a.chatList.ChatByIndex(n), "") },
		})
	}

	a.registry.AddView(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd', Description: "Details", Visible: true,
		Handler: func() { a.showDetails(a.thread.ChatID()) },
	})

	a.registry.AddView(pageContacts, &keys.Action{
		Key: tcell.KeyEnter, Description: "Open chat", Visible: true,
		Handler: func() {
			if c, ok := a.contacts.Selected(); ok {
				a.openChat(c.ID, c.Name())
			}
		},
	})
}

func (a *App) setupCallbacks() {
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptCommand && text != "" {
			a.runCommand(text)
		}
	})
	a.prompt.SetOnChange(func(text string) {
		a.filters[a.pages.Current()] = text
		a.render()
	})
	a.prompt.SetOnCancel(func() {
		a.hidePrompt()
		if a.prompt.Mode() == ui.PromptFilter {
			a.setFilter("")
		}
	})

	a.pages.SetOnChange(func(stack []string) {
		if !slices.Contains(stack, pageThread) {
			a.roster.Open("")
		}
		if c := a.pages.CurrentComponent(); c != nil {
			a.app.SetFocus(c)
		}
		a.render()
	})
}

func (a *App) setupLayout() {
	a.pages.Add(pageChats, a.chatList)
	a.pages.Add(pageThread, a.thread)
	a.pages.Add(pageInfo, a.details)
	a.pages.Add(pageContacts, a.contacts)
	a.pages.Add(pageHelp, a.help)

	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	a.main = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.main, true)
	a.pages.Reset(pageChats)

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if a.promptOpen {
			return ev
		}
		if a.registry.HandleEvent(a.pages.Current(), ev) {
			return nil
		}
		return ev
	})
}

// Run shows the viewer until the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			a.app.QueueUpdate(a.app.Stop)
		case <-finished:
		}
	}()
	go a.tick(ctx, finished)

	a.refresh()
	err := a.app.Run()
	a.stopped.Store(true)
	return err
}

// WatchStatus reports lifecycle changes published on b until ctx ends.
func (a *App) WatchStatus(ctx context.Context, b *bus.Bus) error {
	ch, unsub := b.Subscribe("session.", 16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			change, ok := evt.Payload.(status.StatusChange)
			if !ok {
				continue
			}
			switch change.To {
			case status.Syncing:
				a.flash.Info("Initialized, syncing")
			case status.Error:
				a.flash.Warn("Sync failed, see the log for details")
			}
			a.refresh()
		}
	}
}

// tick redraws once a second so uptime, phase and flash expiry stay current.
func (a *App) tick(ctx context.Context, finished <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-finished:
			return
		case <-t.C:
			a.refresh()
		}
	}
}

func (a *App) render() {
	a.renders.Add(1)
	chats, contacts, messages := a.roster.Counts()

	data := ui.SessionData{
		Session:  a.opts.Session,
		Chats:    chats,
		Contacts: contacts,
		Messages: messages,
		Uptime:   time.Since(a.started),
	}
	if a.opts.Machine != nil {
		data.Status = string(a.opts.Machine.Current())
	}
	if a.opts.Loop != nil {
		data.Phase = string(a.opts.Loop.Phase())
		data.Cycles = a.opts.Loop.Stats().Cycles
	}
	if a.opts.Self != nil {
		if self, ok := a.opts.Self(); ok {
			data.Self = self.Name()
		}
	}
	a.info.Update(data)

	filter := a.filters[pageChats]
	a.chatList.Update(a.roster.Chats(filter), chats, filter)
	filter = a.filters[pageContacts]
	a.contacts.Update(a.roster.Contacts(filter), contacts, filter)

	switch a.pages.Current() {
	case pageThread:
		a.thread.Update(a.roster.Messages(a.thread.ChatID()))
	case pageInfo:
		if row, ok := a.roster.Chat(a.detailsID()); ok {
			a.details.Update(row)
		}
	}

	a.menu.Update(a.registry.Hints(a.pages.Current()))
	a.crumbs.Update(a.pages.Titles())
	a.flashBar.Update(a.flash)
}

func (a *App) show(page string) {
	a.pages.Push(page)
}

func (a *App) back() {
	if filter := a.filters[a.pages.Current()]; filter != "" {
		a.setFilter("")
		return
	}
	a.pages.Pop()
}

func (a *App) setFilter(text string) {
	a.filters[a.pages.Current()] = text
	a.render()
}

// openChat shows a chat's thread. name labels chats the roster has not seen
// yet, such as a directory contact with no messages.
func (a *App) openChat(id, name string) {
	if id == "" {
		return
	}
	if row, ok := a.roster.Chat(id); ok {
		name = row.Name()
	}
	if name == "" {
		name = id
	}
	a.roster.Open(id)
	a.thread.SetChat(id, name)
	if a.pages.Current() != pageThread {
		a.pages.Push(pageThread)
	} else {
		a.render()
	}
}

func (a *App) showDetails(id string) {
	row, ok := a.roster.Chat(id)
	if !ok {
		a.flash.Warn("No details for this chat yet")
		a.render()
		return
	}
	a.details.Update(row)
	a.show(pageInfo)
}

// detailsID is the chat whose details page is open: the thread's chat when
// one is open, the selected chat otherwise.
func (a *App) detailsID() string {
	if stack := a.pages.Stack(); slices.Contains(stack, pageThread) {
		return a.thread.ChatID()
	}
	return a.chatList.SelectedChat()
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.promptOpen = true
	a.main.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptOpen = false
	a.main.ResizeItem(a.prompt, 0, 0)
	if c := a.pages.CurrentComponent(); c != nil {
		a.app.SetFocus(c)
	}
}

func (a *App) runCommand(text string) {
	cmd := ParseCommand(text)
	a.logger.Debug("command", zap.String("name", cmd.Name), zap.String("args", cmd.Args))
	switch cmd.Name {
	case "quit":
		a.app.Stop()
		return
	case "help":
		a.show(pageHelp)
	case "chats":
		a.pages.Reset(pageChats)
	case "contacts":
		a.filters[pageContacts] = cmd.Args
		a.show(pageContacts)
	case "info":
		a.showDetails(a.detailsID())
	case "chat":
		rows := a.roster.Chats(cmd.Args)
		if len(rows) == 0 {
			a.flash.Warn(fmt.Sprintf("No chat matches %q", cmd.Args))
			break
		}
		a.openChat(rows[0].ID, "")
	default:
		a.flash.Warn(fmt.Sprintf("Unknown command %q, try :help", cmd.Name))
	}
	a.render()
}
