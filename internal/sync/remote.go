package sync

import (
	"context"

	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/wx"
	"github.com/tidwall/gjson"
)

// Lookup resolves full contact records for at most wx.MaxBatchSize identifiers.
type Lookup interface {
	BatchGetContacts(ctx context.Context, ids []string) ([]gjson.Result, error)
}

// Remote is the subset of the web-chat client the engine drives.
// *wx.Client satisfies it.
type Remote interface {
	Lookup
	Init(ctx context.Context) (*wx.InitResult, error)
	ProbeChange(ctx context.Context, key wx.SyncKey) (string, error)
	FetchDelta(ctx context.Context, key wx.SyncKey) (*wx.Delta, error)
	GetAllContacts(ctx context.Context) ([]gjson.Result, error)
	NotifyPresence(ctx context.Context, userID string) error
}

// Sink accepts batches for ordered delivery. *dispatch.Dispatcher satisfies it.
type Sink interface {
	Dispatch(b dispatch.Batch) error
}

var _ Remote = (*wx.Client)(nil)
var _ Sink = (*dispatch.Dispatcher)(nil)
