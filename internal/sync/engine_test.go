package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/session"
	"github.com/matheus3301/wxm/internal/status"
	"github.com/matheus3301/wxm/internal/wx"
)

const selfInit = `{
	"BaseResponse": {"Ret": 0},
	"User": {"UserName": "self", "NickName": "Me"},
	"ContactList": [],
	"SyncKey": {"Count": 1, "List": [{"Key": 1, "Val": 1}]}
}`

type harness struct {
	remote   *fakeRemote
	state    *session.State
	consumer *recordingConsumer
	disp     *dispatch.Dispatcher
	machine  *status.Machine
	engine   *Engine
}

func newHarness(t *testing.T, initBody string) *harness {
	t.Helper()
	h := &harness{
		remote:   newFakeRemote(initBody),
		state:    session.NewState(),
		consumer: &recordingConsumer{},
		machine:  status.NewMachine(nil),
	}
	h.disp = dispatch.New(h.consumer, nil, nil)
	h.disp.Start(context.Background())
	h.engine = NewEngine(h.remote, h.state, h.disp, h.machine, nil, Options{})
	return h
}

// flush delivers everything queued so far.
func (h *harness) flush() {
	h.disp.Stop()
}

func delta(mods []string, msgs []string, key int) string {
	return fmt.Sprintf(`{
		"BaseResponse": {"Ret": 0},
		"ModContactCount": %d, "ModContactList": [%s],
		"AddMsgCount": %d, "AddMsgList": [%s],
		"SyncKey": {"Count": 1, "List": [{"Key": 1, "Val": %d}]}
	}`, len(mods), strings.Join(mods, ","), len(msgs), strings.Join(msgs, ","), key)
}

func TestEngineBackoffOnEmptyProbes(t *testing.T) {
	h := newHarness(t, selfInit)

	waits, err := runFor(t, h.engine, 2)
	if err != nil {
		t.Fatal(err)
	}
	probes, deltas, _ := h.remote.calls()
	if waits != 2 {
		t.Errorf("waits = %d, want 2", waits)
	}
	if probes != 2 {
		t.Errorf("probes = %d, want 2", probes)
	}
	if deltas != 0 {
		t.Errorf("delta fetches = %d, want 0", deltas)
	}
	if s := h.engine.Stats(); s.EmptyProbes != 2 || s.Cycles != 2 {
		t.Errorf("stats = %+v", s)
	}
	if h.machine.Current() != status.Stopped {
		t.Errorf("status = %s, want STOPPED", h.machine.Current())
	}
	if h.engine.Phase() != PhaseStopped {
		t.Errorf("phase = %s, want STOPPED", h.engine.Phase())
	}
}

func TestEngineIncomingMessageScenario(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: `{
		"BaseResponse": {"Ret": 0},
		"ModContactCount": 0,
		"AddMsgCount": 1,
		"AddMsgList": [{"ToUserName": "self", "MsgType": 1, "Content": "hi", "CreateTime": 1700000000}],
		"SyncKey": {"Count": 1, "List": [{"Key": 1, "Val": 2}]}
	}`}}

	if _, err := runFor(t, h.engine, 1); err != nil {
		t.Fatal(err)
	}
	h.flush()

	synced := h.consumer.ofKind(dispatch.MessagesSynced)
	if len(synced) != 1 || len(synced[0].messages) != 1 {
		t.Fatalf("message batches = %+v, want one batch with one message", synced)
	}
	m := synced[0].messages[0]
	if !m.IsIncoming || m.Content != "hi" {
		t.Errorf("message = %+v, want incoming \"hi\"", m)
	}
	if _, _, batches := h.remote.calls(); len(batches) != 0 {
		t.Errorf("resolver lookups = %d, want 0", len(batches))
	}
	if n := len(h.consumer.ofKind(dispatch.ContactsAdded)) + len(h.consumer.ofKind(dispatch.ContactsUpdated)); n != 0 {
		t.Errorf("contact batches = %d, want 0", n)
	}
}

func TestEngineContactUpdatesBeforeMessages(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{{selector: "2"}, {selector: "2"}}
	h.remote.deltas = []deltaReply{
		{body: delta([]string{`{"UserName":"@bob","NickName":"Bob"}`}, []string{`{"MsgId":"1","FromUserName":"@bob","ToUserName":"self","MsgType":1}`}, 2)},
		{body: delta([]string{`{"UserName":"@eve"}`}, []string{`{"MsgId":"2","FromUserName":"@eve","ToUserName":"self","MsgType":1}`}, 3)},
	}

	if _, err := runFor(t, h.engine, 2); err != nil {
		t.Fatal(err)
	}
	h.flush()

	var order []string
	for _, d := range h.consumer.deliveries() {
		switch d.kind {
		case dispatch.ContactsUpdated:
			order = append(order, "contacts:"+ids(d.contacts))
		case dispatch.MessagesSynced:
			order = append(order, "messages:"+d.messages[0].ID)
		}
	}
	want := "contacts:@bob messages:1 contacts:@eve messages:2"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("delivery order = %q, want %q", got, want)
	}
	if !h.state.HasChat("@bob") {
		t.Error("modified contact not added to chat roster")
	}
}

func TestEngineCursorFollowsDelta(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: delta(nil, nil, 42)}}

	if _, err := runFor(t, h.engine, 2); err != nil {
		t.Fatal(err)
	}
	h.remote.mu.Lock()
	keys := append([]string(nil), h.remote.probeKeys...)
	h.remote.mu.Unlock()
	if fmt.Sprint(keys) != "[1_1 1_42]" {
		t.Errorf("probe cursors = %v, want [1_1 1_42]", keys)
	}
	if h.state.Cursor().String() != "1_42" {
		t.Errorf("cursor = %q, want 1_42", h.state.Cursor().String())
	}
}

func TestEngineNullDeltaIsTransient(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{{selector: "2"}}

	waits, err := runFor(t, h.engine, 2)
	if err != nil {
		t.Fatal(err)
	}
	h.flush()
	if waits != 2 {
		t.Errorf("waits = %d, want 2", waits)
	}
	if s := h.engine.Stats(); s.NullDeltas != 1 || s.Deltas != 0 {
		t.Errorf("stats = %+v", s)
	}
	if len(h.consumer.ofKind(dispatch.MessagesSynced)) != 0 {
		t.Error("null delta produced a message batch")
	}
	if h.state.Cursor().String() != "1_1" {
		t.Errorf("cursor = %q, want unchanged 1_1", h.state.Cursor().String())
	}
}

func TestEngineTransientErrorsKeepPolling(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{
		{err: errors.New("timeout")},
		{selector: "2"},
		{selector: "2"},
	}
	h.remote.deltas = []deltaReply{{err: errors.New("bad gateway")}}

	waits, err := runFor(t, h.engine, 4)
	if err != nil {
		t.Fatal(err)
	}
	if waits != 4 {
		t.Errorf("waits = %d, want 4 (failures keep the fixed interval)", waits)
	}
	if s := h.engine.Stats(); s.Errors != 2 {
		t.Errorf("Errors = %d, want 2", s.Errors)
	}
}

func TestEngineSessionInvalidReportedOnce(t *testing.T) {
	h := newHarness(t, selfInit)
	lost := fmt.Errorf("synccheck: %w", wx.ErrSessionInvalid)
	h.remote.probes = []probeReply{{selector: "2"}, {err: lost}, {err: lost}}

	waits, err := runFor(t, h.engine, 10)
	if !errors.Is(err, wx.ErrSessionInvalid) {
		t.Fatalf("Run() = %v, want ErrSessionInvalid", err)
	}
	h.flush()

	probes, _, _ := h.remote.calls()
	if probes != 2 || waits != 1 {
		t.Errorf("probes = %d, waits = %d; want 2, 1", probes, waits)
	}
	ended := h.consumer.ofKind(dispatch.SessionEnded)
	if len(ended) != 1 || !errors.Is(ended[0].err, wx.ErrSessionInvalid) {
		t.Errorf("session end deliveries = %+v, want exactly one", ended)
	}
	if h.machine.Current() != status.LoggedOut {
		t.Errorf("status = %s, want LOGGED_OUT", h.machine.Current())
	}

	// Reporting again is a no-op.
	h.engine.end(lost)
	if len(h.consumer.ofKind(dispatch.SessionEnded)) != 1 {
		t.Error("session end reported twice")
	}
}

func TestEngineInitFailure(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.initErr = errors.New("dial tcp: refused")

	_, err := runFor(t, h.engine, 1)
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if h.machine.Current() != status.Error {
		t.Errorf("status = %s, want ERROR", h.machine.Current())
	}
	if probes, _, _ := h.remote.calls(); probes != 0 {
		t.Errorf("probes = %d, want 0", probes)
	}
}

func TestEngineLoadMoreFiltersKnownChats(t *testing.T) {
	h := newHarness(t, `{
		"BaseResponse": {"Ret": 0},
		"User": {"UserName": "self"},
		"ContactList": [{"UserName": "@a", "NickName": "A"}],
		"SyncKey": {"List": [{"Key": 1, "Val": 1}]}
	}`)
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: delta(nil, []string{
		`{"FromUserName":"self","ToUserName":"self","MsgType":51,"StatusNotifyCode":4,"StatusNotifyUserName":"@a,@b,@c"}`,
		`{"FromUserName":"self","ToUserName":"self","MsgType":51,"StatusNotifyCode":4,"StatusNotifyUserName":"@c,@d"}`,
	}, 2)}}

	if _, err := runFor(t, h.engine, 1); err != nil {
		t.Fatal(err)
	}
	h.flush()

	_, _, batches := h.remote.calls()
	if len(batches) != 1 || fmt.Sprint(batches[0]) != "[@b @c @d]" {
		t.Fatalf("lookups = %v, want [[@b @c @d]]", batches)
	}
	added := h.consumer.ofKind(dispatch.ContactsAdded)
	if len(added) != 2 || ids(added[1].contacts) != "@b,@c,@d" {
		t.Errorf("added batches = %+v, want roster then @b,@c,@d", added)
	}
	for _, id := range []string{"@b", "@c", "@d"} {
		if !h.state.HasChat(id) {
			t.Errorf("%s not committed to the chat roster", id)
		}
	}
	// Load-more messages are forwarded like any other.
	if synced := h.consumer.ofKind(dispatch.MessagesSynced); len(synced) != 1 || len(synced[0].messages) != 2 {
		t.Errorf("message batches = %+v", synced)
	}
	if h.engine.Stats().LoadMoreRequests != 1 {
		t.Errorf("LoadMoreRequests = %d, want 1", h.engine.Stats().LoadMoreRequests)
	}
}

func TestEngineLoadMoreAllKnownSkipsResolver(t *testing.T) {
	h := newHarness(t, `{
		"BaseResponse": {"Ret": 0},
		"User": {"UserName": "self"},
		"ContactList": [{"UserName": "@a"}, {"UserName": "@b"}],
		"SyncKey": {"List": [{"Key": 1, "Val": 1}]}
	}`)
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: delta(nil, []string{
		`{"ToUserName":"self","MsgType":51,"StatusNotifyCode":4,"StatusNotifyUserName":"@a,@b"}`,
	}, 2)}}

	if _, err := runFor(t, h.engine, 1); err != nil {
		t.Fatal(err)
	}
	if _, _, batches := h.remote.calls(); len(batches) != 0 {
		t.Errorf("lookups = %v, want none", batches)
	}
}

func TestEngineLoadMoreDeliversPagesProgressively(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: delta(nil, []string{
		fmt.Sprintf(`{"ToUserName":"self","MsgType":51,"StatusNotifyCode":4,"StatusNotifyUserName":%q}`, strings.Join(makeIDs(120), ",")),
	}, 2)}}

	if _, err := runFor(t, h.engine, 1); err != nil {
		t.Fatal(err)
	}
	h.flush()

	added := h.consumer.ofKind(dispatch.ContactsAdded)
	if len(added) != 3 {
		t.Fatalf("added batches = %d, want 3 pages", len(added))
	}
	for i, want := range []int{50, 50, 20} {
		if len(added[i].contacts) != want {
			t.Errorf("page %d size = %d, want %d", i, len(added[i].contacts), want)
		}
	}
	if added[0].contacts[0].ID != "@u000" || added[2].contacts[0].ID != "@u100" {
		t.Error("pages delivered out of fetch order")
	}
}

func TestEngineLoadMoreDoesNotBlockPolling(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.gate = make(chan struct{})
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: delta(nil, []string{
		`{"ToUserName":"self","MsgType":51,"StatusNotifyCode":4,"StatusNotifyUserName":"@slow"}`,
	}, 2)}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := 0
	h.engine.wait = func(ctx context.Context, d time.Duration) error {
		waits++
		if waits == 3 {
			// The lookup is still blocked; the loop kept cycling anyway.
			close(h.remote.gate)
			cancel()
		}
		return ctx.Err()
	}

	if err := h.engine.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if probes, _, _ := h.remote.calls(); probes != 3 {
		t.Errorf("probes = %d, want 3", probes)
	}
}

func TestEngineSkipsMalformedRecords(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.probes = []probeReply{{selector: "2"}}
	h.remote.deltas = []deltaReply{{body: delta(
		[]string{`{"NickName":"nameless"}`, `{"UserName":"@ok"}`},
		[]string{`{"MsgType":1}`, `{"MsgId":"good","ToUserName":"self","MsgType":1}`},
		2,
	)}}

	if _, err := runFor(t, h.engine, 1); err != nil {
		t.Fatal(err)
	}
	h.flush()

	updated := h.consumer.ofKind(dispatch.ContactsUpdated)
	if len(updated) != 1 || ids(updated[0].contacts) != "@ok" {
		t.Errorf("updated = %+v, want @ok", updated)
	}
	synced := h.consumer.ofKind(dispatch.MessagesSynced)
	if len(synced) != 1 || synced[0].messages[0].ID != "good" {
		t.Errorf("synced = %+v, want good", synced)
	}
	if s := h.engine.Stats(); s.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", s.Skipped)
	}
}

func TestEngineBootstrap(t *testing.T) {
	h := newHarness(t, `{
		"BaseResponse": {"Ret": 0},
		"User": {"UserName": "self", "NickName": "Me"},
		"ContactList": [
			{"UserName": "@p", "NickName": "old"},
			{"UserName": "@@room", "NickName": "", "MemberList": [{"UserName": "@m1"}]},
			{"UserName": "@p", "NickName": "new"},
			{"NickName": "broken"}
		],
		"SyncKey": {"List": [{"Key": 1, "Val": 1}]}
	}`)
	h.remote.directory = `[
		{"UserName": "@z", "NickName": "zed"},
		{"UserName": "@n", "NickName": "张三"},
		{"UserName": "@a", "NickName": "amy"}
	]`
	h.remote.records["@@room"] = `{"UserName":"@@room","MemberList":[{"UserName":"@m1","NickName":"Mia"}]}`

	if _, err := runFor(t, h.engine, 1); err != nil {
		t.Fatal(err)
	}
	h.flush()

	self, ok := h.state.Self()
	if !ok || self.ID != "self" {
		t.Errorf("Self() = %+v, %v", self, ok)
	}
	added := h.consumer.ofKind(dispatch.ContactsAdded)
	if len(added) != 1 || ids(added[0].contacts) != "@p,@@room" {
		t.Fatalf("roster batches = %+v, want one batch @p,@@room", added)
	}
	if added[0].contacts[0].DisplayName != "new" {
		t.Errorf("roster kept %q for @p, want the last record", added[0].contacts[0].DisplayName)
	}

	dir := h.consumer.ofKind(dispatch.DirectoryLoaded)
	if len(dir) != 1 || ids(dir[0].contacts) != "@a,@z,@n" {
		t.Errorf("directory = %+v, want @a,@z,@n", dir)
	}
	if h.state.ContactCount() != 3 {
		t.Errorf("ContactCount() = %d, want 3", h.state.ContactCount())
	}

	updated := h.consumer.ofKind(dispatch.ContactsUpdated)
	if len(updated) != 1 || updated[0].contacts[0].DisplayName != "Mia" {
		t.Errorf("group refresh = %+v, want @@room named Mia", updated)
	}

	h.remote.mu.Lock()
	presence := append([]string(nil), h.remote.presence...)
	h.remote.mu.Unlock()
	if fmt.Sprint(presence) != "[self]" {
		t.Errorf("presence = %v, want [self]", presence)
	}
}

func TestEngineStartStop(t *testing.T) {
	h := newHarness(t, selfInit)
	h.engine.interval = time.Millisecond

	h.engine.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for h.engine.Stats().Cycles < 3 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for cycles")
		case <-time.After(time.Millisecond):
		}
	}
	h.engine.Stop()

	select {
	case <-h.engine.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}
	if err := h.engine.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if h.machine.Current() != status.Stopped {
		t.Errorf("status = %s, want STOPPED", h.machine.Current())
	}
}

func TestEngineNothingDeliveredAfterSessionEnd(t *testing.T) {
	h := newHarness(t, selfInit)
	h.remote.gate = make(chan struct{})
	h.remote.started = make(chan struct{}, 1)
	lost := fmt.Errorf("synccheck: %w", wx.ErrSessionInvalid)
	h.remote.probes = []probeReply{{selector: "2"}, {err: lost}}
	h.remote.deltas = []deltaReply{{body: delta(nil, []string{
		`{"ToUserName":"self","MsgType":51,"StatusNotifyCode":4,"StatusNotifyUserName":"@x"}`,
	}, 2)}}

	h.engine.wait = func(ctx context.Context, d time.Duration) error {
		// The session is lost while the lookup for @x is held.
		select {
		case <-h.remote.started:
		case <-time.After(5 * time.Second):
			return errors.New("lookup never started")
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()
	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after session loss")
	}
	if !errors.Is(err, wx.ErrSessionInvalid) {
		t.Fatalf("Run() = %v, want ErrSessionInvalid", err)
	}
	h.flush()

	got := h.consumer.deliveries()
	if len(got) == 0 || got[len(got)-1].kind != dispatch.SessionEnded {
		var kinds []string
		for _, d := range got {
			kinds = append(kinds, d.kind.String())
		}
		t.Fatalf("deliveries = %v, want session end last", kinds)
	}
	if added := h.consumer.ofKind(dispatch.ContactsAdded); len(added) != 0 {
		t.Errorf("contacts added = %+v, want none", added)
	}
	if h.state.HasChat("@x") {
		t.Error("@x committed after session loss")
	}
	if _, _, batches := h.remote.calls(); len(batches) != 1 {
		t.Errorf("lookups = %v, want the one in flight", batches)
	}
}

func TestEngineDoneBeforeStart(t *testing.T) {
	h := newHarness(t, selfInit)
	done := h.engine.Done()
	if done == nil {
		t.Fatal("Done() = nil before Start")
	}
	// Stopping an engine that never started returns at once.
	h.engine.Stop()
	select {
	case <-done:
		t.Fatal("Done() closed for an engine that never started")
	default:
	}

	h.engine.interval = time.Millisecond
	h.engine.Start(context.Background())
	h.engine.Stop()
	select {
	case <-done:
	default:
		t.Fatal("channel from before Start not closed after Stop")
	}
}
