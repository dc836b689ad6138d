package sync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/session"
	"github.com/matheus3301/wxm/internal/store"
	"go.uber.org/zap"
)

// Reconciler runs background contact resolutions that fill gaps the poll
// loop discovers: chats referenced by a load-more signal and groups whose
// member details came back incomplete. Each resolved page is committed to
// the session state and dispatched on its own, so consumers see progress
// before the whole resolution finishes.
type Reconciler struct {
	resolver *Resolver
	state    *session.State
	sink     Sink
	logger   *zap.Logger

	tasks    sync.WaitGroup
	requests atomic.Int64
}

// NewReconciler creates a new reconciler.
func NewReconciler(resolver *Resolver, state *session.State, sink Sink, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{resolver: resolver, state: state, sink: sink, logger: logger}
}

// LoadMore starts resolving the identifiers that are not yet in the chat
// roster. It returns immediately and reports whether a resolution started.
func (r *Reconciler) LoadMore(ctx context.Context, ids []string) bool {
	unknown := r.state.UnknownChats(ids)
	if len(unknown) == 0 {
		return false
	}
	r.requests.Add(1)
	r.tasks.Go(func() {
		// Another resolution may have committed some of these meanwhile.
		pending := r.state.UnknownChats(unknown)
		if len(pending) == 0 {
			return
		}
		r.run(ctx, pending, dispatch.ContactsAdded)
	})
	return true
}

// RefreshGroups starts re-resolving known group chats and delivers them as
// updates.
func (r *Reconciler) RefreshGroups(ctx context.Context, ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	r.requests.Add(1)
	r.tasks.Go(func() {
		r.run(ctx, ids, dispatch.ContactsUpdated)
	})
	return true
}

// Requests returns how many background resolutions were started.
func (r *Reconciler) Requests() int64 { return r.requests.Load() }

// Wait blocks until every started resolution has returned.
func (r *Reconciler) Wait() { r.tasks.Wait() }

func (r *Reconciler) run(ctx context.Context, ids []string, kind dispatch.Kind) {
	resolved, err := r.resolver.Resolve(ctx, ids, func(page []store.Contact) {
		r.state.AddChats(page)
		if err := r.sink.Dispatch(dispatch.Batch{Kind: kind, Contacts: page}); err != nil {
			r.logger.Warn("dispatch resolved contacts", zap.Stringer("kind", kind), zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("contact resolution incomplete",
			zap.Stringer("kind", kind),
			zap.Int("requested", len(ids)),
			zap.Int("resolved", len(resolved)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("contact resolution finished",
		zap.Stringer("kind", kind),
		zap.Int("requested", len(ids)),
		zap.Int("resolved", len(resolved)),
	)
}
