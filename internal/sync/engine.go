package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/session"
	"github.com/matheus3301/wxm/internal/status"
	"github.com/matheus3301/wxm/internal/store"
	"github.com/matheus3301/wxm/internal/wx"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	presenceTimeout     = 10 * time.Second
)

// Options tune the poll loop.
type Options struct {
	// PollInterval is the fixed delay after every cycle.
	PollInterval time.Duration
	// PageSize bounds each batch contact lookup.
	PageSize int
}

// Stats are cumulative loop counters.
type Stats struct {
	Cycles           int64
	EmptyProbes      int64
	NullDeltas       int64
	Deltas           int64
	Errors           int64
	Contacts         int64
	Messages         int64
	LoadMoreRequests int64
	Lookups          int64
	Skipped          int64
}

// Engine is the polling sync loop. It bootstraps the session, then probes the
// remote for changes at a fixed interval, fetches and classifies deltas and
// hands the resulting batches to the sink. Only an invalidated session or
// cancellation ends it.
type Engine struct {
	remote     Remote
	state      *session.State
	sink       Sink
	machine    *status.Machine
	resolver   *Resolver
	reconciler *Reconciler
	logger     *zap.Logger
	interval   time.Duration
	wait       func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	phase Phase

	tasks   sync.WaitGroup
	endOnce sync.Once

	cycles, emptyProbes, nullDeltas, deltas, errs atomic.Int64
	contacts, messages, skipped                   atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewEngine creates a sync engine. machine may be nil.
func NewEngine(remote Remote, state *session.State, sink Sink, machine *status.Machine, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	resolver := NewResolver(remote, opts.PageSize, logger.Named("resolver"))
	return &Engine{
		remote:     remote,
		state:      state,
		sink:       sink,
		machine:    machine,
		resolver:   resolver,
		reconciler: NewReconciler(resolver, state, sink, logger.Named("reconciler")),
		logger:     logger,
		interval:   opts.PollInterval,
		wait:       sleep,
		phase:      PhaseIdle,
		done:       make(chan struct{}),
	}
}

// Start runs the engine in the background until Stop, cancellation of ctx or
// a fatal error. Done is closed when it has exited. An engine is started at
// most once.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	go func() {
		defer close(e.done)
		e.err = e.Run(ctx)
	}()
}

// Stop cancels a started engine and waits for it to exit. It does nothing if
// the engine was never started.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
		<-e.done
	}
}

// Done is closed once a started engine has exited. It stays open for an
// engine that was never started.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the error a started engine exited with. Only valid after Done.
func (e *Engine) Err() error { return e.err }

// Phase returns the loop's current phase.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Stats returns a snapshot of the loop counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Cycles:           e.cycles.Load(),
		EmptyProbes:      e.emptyProbes.Load(),
		NullDeltas:       e.nullDeltas.Load(),
		Deltas:           e.deltas.Load(),
		Errors:           e.errs.Load(),
		Contacts:         e.contacts.Load(),
		Messages:         e.messages.Load(),
		LoadMoreRequests: e.reconciler.Requests(),
		Lookups:          e.resolver.Calls(),
		Skipped:          e.skipped.Load() + e.resolver.Skipped(),
	}
}

// Run bootstraps the session and polls until ctx is cancelled, returning nil,
// or until the remote invalidates the session, returning an error wrapping
// wx.ErrSessionInvalid. Background resolutions are cancelled and waited for
// before the outcome is reported, so nothing reaches the sink after the
// session end signal.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := e.loop(runCtx)
	cancel()
	e.reconciler.Wait()
	e.tasks.Wait()
	return e.exit(ctx, err)
}

func (e *Engine) loop(ctx context.Context) error {
	e.transition(status.Initializing)
	if err := e.bootstrap(ctx); err != nil {
		return err
	}
	e.transition(status.Syncing)
	e.logger.Info("sync loop started", zap.Duration("interval", e.interval))

	for {
		if err := e.cycle(ctx); err != nil {
			return err
		}
		if err := e.wait(ctx, e.interval); err != nil {
			return err
		}
	}
}

func (e *Engine) exit(ctx context.Context, err error) error {
	e.setPhase(PhaseStopped)
	switch {
	case errors.Is(err, wx.ErrSessionInvalid):
		e.end(err)
		return err
	case ctx.Err() != nil:
		e.logger.Info("sync loop stopped", zap.Int64("cycles", e.cycles.Load()))
		e.transition(status.Stopped)
		return nil
	default:
		e.logger.Error("sync loop failed", zap.Error(err))
		e.transition(status.Error)
		return err
	}
}

// end reports session loss to the consumer exactly once.
func (e *Engine) end(err error) {
	e.endOnce.Do(func() {
		e.logger.Error("session invalidated, sync stopped", zap.Error(err))
		e.transition(status.LoggedOut)
		if derr := e.sink.Dispatch(dispatch.Batch{Kind: dispatch.SessionEnded, Err: err}); derr != nil {
			e.logger.Warn("dispatch session end", zap.Error(derr))
		}
	})
}

func (e *Engine) bootstrap(ctx context.Context) error {
	res, err := e.remote.Init(ctx)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	self, err := wx.ParseContact(res.User)
	if err != nil {
		return fmt.Errorf("init: current user: %w", err)
	}
	if err := e.state.SetSelf(self); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	e.state.SetCursor(res.SyncKey)

	roster := e.normalizeContacts(res.Contacts)
	e.state.AddChats(roster)
	e.dispatch(dispatch.ContactsAdded, roster, nil)
	e.logger.Info("session initialized",
		zap.String("self", self.ID),
		zap.Int("chats", len(roster)),
	)

	e.tasks.Go(func() {
		pctx, cancel := context.WithTimeout(ctx, presenceTimeout)
		defer cancel()
		if err := e.remote.NotifyPresence(pctx, self.ID); err != nil {
			e.logger.Warn("presence notification failed", zap.Error(err))
		}
	})
	e.tasks.Go(func() { e.loadDirectory(ctx) })

	var groups []string
	for _, c := range roster {
		if c.IsGroup && membersIncomplete(c) {
			groups = append(groups, c.ID)
		}
	}
	e.reconciler.RefreshGroups(ctx, groups)
	return nil
}

func (e *Engine) loadDirectory(ctx context.Context) {
	raw, err := e.remote.GetAllContacts(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.logger.Warn("contact directory load failed", zap.Error(err))
		return
	}
	contacts := e.normalizeContacts(raw)
	slices.SortStableFunc(contacts, func(a, b store.Contact) int {
		if c := compareBuckets(a.SortKey, b.SortKey); c != 0 {
			return c
		}
		return cmp.Compare(a.Name(), b.Name())
	})
	e.state.AddContacts(contacts)
	e.dispatch(dispatch.DirectoryLoaded, contacts, nil)
	e.logger.Info("contact directory loaded", zap.Int("contacts", len(contacts)))
}

// cycle runs one probe and, when the remote reports a change, one delta.
// Only session loss and cancellation are returned; everything else is
// logged and retried on the next cycle.
func (e *Engine) cycle(ctx context.Context) error {
	e.cycles.Add(1)
	if err := e.enter(ctx, PhaseCheckPending); err != nil {
		return err
	}
	cursor := e.state.Cursor()
	selector, err := e.remote.ProbeChange(ctx, cursor)
	if err != nil {
		return e.transient(ctx, "probe", err)
	}
	if selector == "" {
		e.emptyProbes.Add(1)
		return e.enter(ctx, PhaseIdle)
	}

	if err := e.enter(ctx, PhaseDeltaReceived); err != nil {
		return err
	}
	delta, err := e.remote.FetchDelta(ctx, cursor)
	if err != nil {
		return e.transient(ctx, "delta", err)
	}
	if delta == nil {
		e.nullDeltas.Add(1)
		e.logger.Debug("empty delta", zap.String("selector", selector))
		return e.enter(ctx, PhaseIdle)
	}
	e.deltas.Add(1)

	if err := e.enter(ctx, PhaseClassifying); err != nil {
		return err
	}
	updated := e.normalizeContacts(delta.ModContacts)
	messages := e.normalizeMessages(delta.Messages)

	var loadMore []string
	for _, m := range messages {
		loadMore = append(loadMore, m.LoadMoreIDs()...)
	}
	if len(loadMore) > 0 {
		if err := e.enter(ctx, PhaseResolving); err != nil {
			return err
		}
		e.reconciler.LoadMore(ctx, loadMore)
	}

	if err := e.enter(ctx, PhaseDispatching); err != nil {
		return err
	}
	e.state.AddChats(updated)
	e.dispatch(dispatch.ContactsUpdated, updated, nil)
	e.dispatch(dispatch.MessagesSynced, nil, messages)
	e.state.SetCursor(delta.SyncKey)
	e.contacts.Add(int64(len(updated)))
	e.messages.Add(int64(len(messages)))
	return e.enter(ctx, PhaseIdle)
}

func (e *Engine) transient(ctx context.Context, op string, err error) error {
	if errors.Is(err, wx.ErrSessionInvalid) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.errs.Add(1)
	e.logger.Warn("poll failed, retrying", zap.String("op", op), zap.Error(err))
	return e.enter(ctx, PhaseIdle)
}

// enter moves the loop to p unless ctx has been cancelled.
func (e *Engine) enter(ctx context.Context, p Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.setPhase(p)
	return nil
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == p {
		return
	}
	if !canTransition(e.phase, p) {
		e.logger.Error("invalid phase transition", zap.String("from", string(e.phase)), zap.String("to", string(p)))
		return
	}
	e.phase = p
}

func (e *Engine) transition(to status.State) {
	if e.machine == nil {
		return
	}
	if err := e.machine.Transition(to); err != nil {
		e.logger.Warn("status transition rejected", zap.Error(err))
	}
}

func (e *Engine) dispatch(kind dispatch.Kind, contacts []store.Contact, messages []store.Message) {
	err := e.sink.Dispatch(dispatch.Batch{Kind: kind, Contacts: contacts, Messages: messages})
	if err != nil {
		e.logger.Warn("dispatch failed", zap.Stringer("kind", kind), zap.Error(err))
	}
}

func (e *Engine) normalizeContacts(raw []gjson.Result) []store.Contact {
	out := make([]store.Contact, 0, len(raw))
	for _, r := range raw {
		c, err := wx.ParseContact(r)
		if err != nil {
			e.skipped.Add(1)
			e.logger.Warn("skipping malformed contact", zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return dedupeContacts(out)
}

func (e *Engine) normalizeMessages(raw []gjson.Result) []store.Message {
	selfID := e.state.SelfID()
	out := make([]store.Message, 0, len(raw))
	for _, r := range raw {
		m, err := wx.ParseMessage(r, selfID)
		if err != nil {
			e.skipped.Add(1)
			e.logger.Warn("skipping malformed message", zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

// membersIncomplete reports whether a group arrived without usable member names.
func membersIncomplete(c store.Contact) bool {
	if len(c.Members) == 0 {
		return true
	}
	for _, m := range c.Members {
		if m.Name() == "" {
			return true
		}
	}
	return false
}

// compareBuckets orders letter buckets alphabetically with "#" last.
func compareBuckets(a, b string) int {
	if a == b {
		return 0
	}
	if a == "#" {
		return 1
	}
	if b == "#" {
		return -1
	}
	return cmp.Compare(a, b)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
