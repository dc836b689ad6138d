package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/store"
	"github.com/matheus3301/wxm/internal/wx"
	"github.com/tidwall/gjson"
)

type probeReply struct {
	selector string
	err      error
}

type deltaReply struct {
	body string
	err  error
}

// fakeRemote is a scripted Remote. Probe and delta replies are consumed in
// order; once exhausted, probes report no change and deltas are null.
type fakeRemote struct {
	mu sync.Mutex

	initBody string
	initErr  error
	probes   []probeReply
	deltas   []deltaReply

	// records overrides the echoed lookup record per identifier.
	records   map[string]string
	failCalls map[int]error
	gate      chan struct{}
	// started, if set, receives once per lookup as it begins.
	started   chan struct{}
	directory string

	probeKeys  []string
	deltaCalls int
	batchCalls [][]string
	presence   []string
}

func newFakeRemote(initBody string) *fakeRemote {
	return &fakeRemote{initBody: initBody, records: map[string]string{}, failCalls: map[int]error{}}
}

func (f *fakeRemote) Init(ctx context.Context) (*wx.InitResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return wx.ParseInit([]byte(f.initBody))
}

func (f *fakeRemote) ProbeChange(ctx context.Context, key wx.SyncKey) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeKeys = append(f.probeKeys, key.String())
	if len(f.probes) == 0 {
		return "", nil
	}
	r := f.probes[0]
	f.probes = f.probes[1:]
	return r.selector, r.err
}

func (f *fakeRemote) FetchDelta(ctx context.Context, key wx.SyncKey) (*wx.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltaCalls++
	if len(f.deltas) == 0 {
		return nil, nil
	}
	r := f.deltas[0]
	f.deltas = f.deltas[1:]
	if r.err != nil {
		return nil, r.err
	}
	return wx.ParseDelta([]byte(r.body))
}

func (f *fakeRemote) BatchGetContacts(ctx context.Context, ids []string) ([]gjson.Result, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		// A held lookup also completes when its context ends, like a
		// response racing cancellation.
		select {
		case <-f.gate:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, append([]string(nil), ids...))
	if err := f.failCalls[len(f.batchCalls)]; err != nil {
		return nil, err
	}
	var out []gjson.Result
	for _, id := range ids {
		raw, ok := f.records[id]
		if !ok {
			raw = fmt.Sprintf(`{"UserName":%q,"NickName":"name %s"}`, id, id)
		}
		out = append(out, gjson.Parse(raw))
	}
	return out, nil
}

func (f *fakeRemote) GetAllContacts(ctx context.Context) ([]gjson.Result, error) {
	if f.directory == "" {
		return nil, nil
	}
	return gjson.Parse(f.directory).Array(), nil
}

func (f *fakeRemote) NotifyPresence(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, userID)
	return errors.New("presence is best effort")
}

func (f *fakeRemote) calls() (probes, deltas int, batches [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probeKeys), f.deltaCalls, append([][]string(nil), f.batchCalls...)
}

type delivery struct {
	kind     dispatch.Kind
	contacts []store.Contact
	messages []store.Message
	err      error
}

// recordingConsumer collects deliveries made by a dispatcher.
type recordingConsumer struct {
	mu  sync.Mutex
	got []delivery
}

func (r *recordingConsumer) add(d delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
}

func (r *recordingConsumer) OnContactsAdded(cs []store.Contact) {
	r.add(delivery{kind: dispatch.ContactsAdded, contacts: cs})
}
func (r *recordingConsumer) OnContactsUpdated(cs []store.Contact) {
	r.add(delivery{kind: dispatch.ContactsUpdated, contacts: cs})
}
func (r *recordingConsumer) OnMessagesSynced(ms []store.Message) {
	r.add(delivery{kind: dispatch.MessagesSynced, messages: ms})
}
func (r *recordingConsumer) OnDirectoryLoaded(cs []store.Contact) {
	r.add(delivery{kind: dispatch.DirectoryLoaded, contacts: cs})
}
func (r *recordingConsumer) OnSessionEnded(err error) {
	r.add(delivery{kind: dispatch.SessionEnded, err: err})
}

func (r *recordingConsumer) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

func (r *recordingConsumer) ofKind(k dispatch.Kind) []delivery {
	var out []delivery
	for _, d := range r.deliveries() {
		if d.kind == k {
			out = append(out, d)
		}
	}
	return out
}

// cycleLimit returns a wait function that counts delays and cancels after n,
// once settle has returned.
func cycleLimit(cancel context.CancelFunc, settle func(), n int, waits *int) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits++
		if d != DefaultPollInterval {
			return fmt.Errorf("unexpected interval %v", d)
		}
		if *waits >= n {
			settle()
			cancel()
		}
		return ctx.Err()
	}
}

func ids(cs []store.Contact) string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return strings.Join(out, ",")
}

func runFor(t *testing.T, e *Engine, cycles int) (waits int, err error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Background resolutions finish before the run is cancelled.
	settle := func() {
		e.reconciler.Wait()
		e.tasks.Wait()
	}
	e.wait = cycleLimit(cancel, settle, cycles, &waits)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
	return waits, err
}
