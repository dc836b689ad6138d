package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/matheus3301/wxm/internal/store"
	"github.com/matheus3301/wxm/internal/wx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Resolver fetches full contact records in fixed-size pages.
type Resolver struct {
	lookup   Lookup
	pageSize int
	logger   *zap.Logger
	calls    atomic.Int64
	skipped  atomic.Int64
}

// NewResolver creates a resolver. A page size outside (0, wx.MaxBatchSize]
// is replaced by wx.MaxBatchSize.
func NewResolver(lookup Lookup, pageSize int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 || pageSize > wx.MaxBatchSize {
		pageSize = wx.MaxBatchSize
	}
	return &Resolver{lookup: lookup, pageSize: pageSize, logger: logger}
}

// Resolve looks up ids page by page, in order. Callers pass only identifiers
// they do not already know. Each normalized page is handed to deliver (if
// non-nil) as soon as it is available. A failed page is skipped; its error is
// combined into the returned error while the remaining pages are still
// fetched. Cancellation stops the resolution, including a page whose lookup
// was in flight. The returned contacts hold one entry per identifier, the last
// record seen winning.
func (r *Resolver) Resolve(ctx context.Context, ids []string, deliver func([]store.Contact)) ([]store.Contact, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		all  []store.Contact
		errs error
	)
	for start := 0; start < len(ids); start += r.pageSize {
		if err := ctx.Err(); err != nil {
			return dedupeContacts(all), multierr.Append(errs, err)
		}
		end := min(start+r.pageSize, len(ids))
		page := ids[start:end]

		r.calls.Add(1)
		raw, err := r.lookup.BatchGetContacts(ctx, page)
		if cerr := ctx.Err(); cerr != nil {
			// A page that arrives after cancellation is not delivered.
			return dedupeContacts(all), multierr.Append(errs, cerr)
		}
		if err != nil {
			r.logger.Warn("contact page failed",
				zap.Int("offset", start),
				zap.Int("size", len(page)),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("page at %d: %w", start, err))
			continue
		}

		contacts := make([]store.Contact, 0, len(raw))
		for _, rec := range raw {
			c, err := wx.ParseContact(rec)
			if err != nil {
				r.skipped.Add(1)
				r.logger.Warn("skipping malformed contact", zap.Error(err))
				continue
			}
			contacts = append(contacts, c)
		}
		contacts = dedupeContacts(contacts)
		if len(contacts) > 0 && deliver != nil {
			deliver(contacts)
		}
		all = append(all, contacts...)
	}
	return dedupeContacts(all), errs
}

// Calls returns how many lookup calls the resolver has issued.
func (r *Resolver) Calls() int64 { return r.calls.Load() }

// Skipped returns how many malformed records the resolver has dropped.
func (r *Resolver) Skipped() int64 { return r.skipped.Load() }

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// dedupeContacts keeps one contact per identifier at the position of its
// first occurrence, holding the last record seen.
func dedupeContacts(cs []store.Contact) []store.Contact {
	if len(cs) < 2 {
		return cs
	}
	index := make(map[string]int, len(cs))
	out := make([]store.Contact, 0, len(cs))
	for _, c := range cs {
		if i, ok := index[c.ID]; ok {
			out[i] = c
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
