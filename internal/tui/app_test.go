package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wxm/internal/bus"
	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/status"
	"github.com/matheus3301/wxm/internal/store"
	intsync "github.com/matheus3301/wxm/internal/sync"
	"github.com/matheus3301/wxm/internal/tui/ui"
	"github.com/matheus3301/wxm/internal/wx"
)

var (
	_ dispatch.Consumer          = (*App)(nil)
	_ dispatch.SessionEndHandler = (*App)(nil)
)

type fakeLoop struct{}

func (fakeLoop) Phase() intsync.Phase { return intsync.PhaseIdle }
func (fakeLoop) Stats() intsync.Stats { return intsync.Stats{Cycles: 3} }

func newTestApp(t *testing.T, b *bus.Bus) (*App, tcell.SimulationScreen) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	a := NewApp(Options{
		Session: "test",
		Machine: status.NewMachine(b),
		Loop:    fakeLoop{},
		Self:    func() (store.Contact, bool) { return store.Contact{ID: "@me", DisplayName: "Me"}, true },
		Screen:  screen,
	})
	return a, screen
}

func runApp(t *testing.T, a *App) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

// onUI runs fn on the tview goroutine and returns its result.
func onUI[T any](t *testing.T, a *App, fn func() T) T {
	t.Helper()
	out := make(chan T, 1)
	go a.app.QueueUpdate(func() { out <- fn() })
	select {
	case v := <-out:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("UI goroutine did not run the update")
	}
	var zero T
	return zero
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsumerCallbacksRender(t *testing.T) {
	a, _ := newTestApp(t, bus.New())
	runApp(t, a)

	a.OnContactsAdded([]store.Contact{{ID: "@bob", DisplayName: "Bob"}, {ID: "@@team", DisplayName: "Team", IsGroup: true}})
	a.OnMessagesSynced([]store.Message{{
		ID: "1", FromID: "@bob", ToID: "@me", Content: "hi", CreatedAt: time.Now(), IsIncoming: true,
	}})

	eventually(t, "chat list rows", func() bool {
		return onUI(t, a, func() int { return a.chatList.GetRowCount() }) == 3
	})
	first := onUI(t, a, func() string { return a.chatList.ChatByIndex(1) })
	if first != "@bob" {
		t.Errorf("first chat = %q, want most recently active @bob", first)
	}
}

func TestRefreshCoalesces(t *testing.T) {
	a, _ := newTestApp(t, bus.New())
	// Nothing drains the update queue yet, so only the first refresh queues.
	for range 50 {
		a.OnMessagesSynced([]store.Message{{ID: "x", FromID: "@bob", ToID: "@me", IsIncoming: true}})
	}
	if !a.pending.Load() {
		t.Fatal("no redraw pending")
	}
	before := a.renders.Load()
	runApp(t, a)
	eventually(t, "queued redraw", func() bool { return a.renders.Load() > before && !a.pending.Load() })
}

func TestOpenChatClearsUnreadAndBackRestores(t *testing.T) {
	a, screen := newTestApp(t, bus.New())
	runApp(t, a)
	a.OnMessagesSynced([]store.Message{{ID: "1", FromID: "@bob", ToID: "@me", Content: "hi", IsIncoming: true}})
	eventually(t, "chat listed", func() bool {
		return onUI(t, a, func() string { return a.chatList.ChatByIndex(1) }) == "@bob"
	})

	screen.InjectKey(tcell.KeyRune, '1', tcell.ModNone)
	eventually(t, "thread open", func() bool {
		return onUI(t, a, func() string { return a.pages.Current() }) == pageThread
	})
	if row, _ := a.Roster().Chat("@bob"); row.Unread != 0 {
		t.Errorf("unread = %d after opening", row.Unread)
	}
	if a.Roster().Active() != "@bob" {
		t.Errorf("active = %q", a.Roster().Active())
	}

	screen.InjectKey(tcell.KeyEscape, 0, tcell.ModNone)
	eventually(t, "back on chats", func() bool {
		return onUI(t, a, func() string { return a.pages.Current() }) == pageChats
	})
	if a.Roster().Active() != "" {
		t.Errorf("active = %q after leaving the thread", a.Roster().Active())
	}
}

func TestCommands(t *testing.T) {
	a, _ := newTestApp(t, bus.New())
	runApp(t, a)
	a.OnContactsAdded([]store.Contact{{ID: "@carol", RemarkName: "Carol"}})
	a.OnDirectoryLoaded([]store.Contact{{ID: "@amy", DisplayName: "Amy"}, {ID: "@carol", RemarkName: "Carol"}})

	page := onUI(t, a, func() string {
		a.runCommand("chat car")
		return a.pages.Current()
	})
	if page != pageThread || a.thread.ChatID() != "@carol" {
		t.Errorf(":chat opened %s/%s", page, a.thread.ChatID())
	}

	rows := onUI(t, a, func() int {
		a.runCommand("contacts amy")
		return a.contacts.GetRowCount()
	})
	if rows != 2 {
		t.Errorf("filtered contacts rows = %d, want header + 1", rows)
	}

	flash := onUI(t, a, func() string {
		a.runCommand("logout")
		m, _ := a.flash.Current()
		return m.Text
	})
	if flash == "" {
		t.Error("unknown command left no flash message")
	}

	page = onUI(t, a, func() string {
		a.runCommand("chats")
		return a.pages.Current()
	})
	if page != pageChats || len(a.pages.Stack()) != 1 {
		t.Errorf(":chats stack = %v", a.pages.Stack())
	}
}

func TestSessionEndedKeepsViewerOpen(t *testing.T) {
	a, _ := newTestApp(t, bus.New())
	_, errc := runApp(t, a)

	a.OnSessionEnded(wx.ErrSessionInvalid)
	m, ok := a.flash.Current()
	if !ok || m.Level != ui.FlashErr || !strings.Contains(m.Text, "session ended") {
		t.Errorf("flash = %+v, %v", m, ok)
	}
	select {
	case err := <-errc:
		t.Fatalf("viewer exited on session end: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQuitKeyAndCancellationStopRun(t *testing.T) {
	a, screen := newTestApp(t, bus.New())
	_, errc := runApp(t, a)
	eventually(t, "first render", func() bool { return a.renders.Load() > 0 })
	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("q did not quit")
	}

	// Updates after the viewer stopped schedule nothing.
	a.pending.Store(false)
	a.OnMessagesSynced([]store.Message{{ID: "late", FromID: "@bob", ToID: "@me", IsIncoming: true}})
	if a.pending.Load() {
		t.Error("redraw queued after Run returned")
	}
	if _, ok := a.Roster().Chat("@bob"); !ok {
		t.Error("roster not updated after Run returned")
	}

	other, _ := newTestApp(t, bus.New())
	cancel, errc := runApp(t, other)
	eventually(t, "first render", func() bool { return other.renders.Load() > 0 })
	cancel()
	select {
	case <-errc:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the viewer")
	}
}

func TestWatchStatusFlashes(t *testing.T) {
	b := bus.New()
	a, _ := newTestApp(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.WatchStatus(ctx, b) }()

	eventually(t, "syncing flash", func() bool {
		// Publish until the watcher has subscribed.
		b.Publish(bus.Event{Kind: bus.KindStatusChanged, Payload: status.StatusChange{From: status.Initializing, To: status.Syncing}})
		m, ok := a.flash.Current()
		return ok && m.Text == "Initialized, syncing"
	})
	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchStatus() = %v", err)
	}
}
