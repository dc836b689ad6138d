package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/matheus3301/wxm/internal/store"
	"github.com/tidwall/gjson"
)

type lookupFunc func(ctx context.Context, ids []string) ([]gjson.Result, error)

func (f lookupFunc) BatchGetContacts(ctx context.Context, ids []string) ([]gjson.Result, error) {
	return f(ctx, ids)
}

func makeIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("@u%03d", i)
	}
	return out
}

func TestResolverChunking(t *testing.T) {
	for _, n := range []int{1, 49, 50, 51, 100, 120, 251} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			f := newFakeRemote("")
			r := NewResolver(f, 50, nil)

			got, err := r.Resolve(context.Background(), makeIDs(n), nil)
			if err != nil {
				t.Fatal(err)
			}
			_, _, batches := f.calls()
			if want := (n + 49) / 50; len(batches) != want {
				t.Errorf("lookup calls = %d, want %d", len(batches), want)
			}
			for i, b := range batches {
				if len(b) > 50 {
					t.Errorf("page %d has %d identifiers", i, len(b))
				}
			}
			seen := map[string]bool{}
			for _, c := range got {
				if seen[c.ID] {
					t.Fatalf("duplicate contact %s", c.ID)
				}
				seen[c.ID] = true
			}
			if len(got) != n {
				t.Errorf("resolved %d contacts, want %d", len(got), n)
			}
		})
	}
}

func TestResolverEmptyInput(t *testing.T) {
	f := newFakeRemote("")
	r := NewResolver(f, 50, nil)

	got, err := r.Resolve(context.Background(), nil, func([]store.Contact) {
		t.Error("deliver called for empty input")
	})
	if err != nil || len(got) != 0 {
		t.Errorf("Resolve(nil) = %v, %v", got, err)
	}
	if _, _, batches := f.calls(); len(batches) != 0 {
		t.Errorf("lookup calls = %d, want 0", len(batches))
	}
}

func TestResolverDeduplicatesInput(t *testing.T) {
	f := newFakeRemote("")
	r := NewResolver(f, 50, nil)

	if _, err := r.Resolve(context.Background(), []string{"@a", "@b", "@a", "", "@b"}, nil); err != nil {
		t.Fatal(err)
	}
	_, _, batches := f.calls()
	if len(batches) != 1 || fmt.Sprint(batches[0]) != "[@a @b]" {
		t.Errorf("batches = %v, want [[@a @b]]", batches)
	}
}

func TestResolverLastRecordWins(t *testing.T) {
	f := newFakeRemote("")
	r := NewResolver(f, 2, nil)
	f.records["@a"] = `{"UserName":"@x","NickName":"first"}`
	f.records["@b"] = `{"UserName":"@x","NickName":"second"}`

	got, err := r.Resolve(context.Background(), []string{"@a", "@b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d contacts, want 1", len(got))
	}
	if got[0].DisplayName != "second" {
		t.Errorf("DisplayName = %q, want second", got[0].DisplayName)
	}
}

func TestResolverPartialPageFailure(t *testing.T) {
	f := newFakeRemote("")
	f.failCalls[2] = errors.New("connection reset")
	r := NewResolver(f, 50, nil)

	var pages [][]store.Contact
	got, err := r.Resolve(context.Background(), makeIDs(120), func(p []store.Contact) {
		pages = append(pages, p)
	})
	if err == nil {
		t.Fatal("expected error for failed page")
	}
	if _, _, batches := f.calls(); len(batches) != 3 {
		t.Errorf("lookup calls = %d, want 3 (failure must not stop later pages)", len(batches))
	}
	if len(pages) != 2 || len(pages[0]) != 50 || len(pages[1]) != 20 {
		t.Errorf("delivered pages of sizes %d, want [50 20]", len(pages))
	}
	if len(got) != 70 {
		t.Errorf("resolved %d contacts, want 70", len(got))
	}
	if got[0].ID != "@u000" || got[50].ID != "@u100" {
		t.Errorf("unexpected ids %s, %s", got[0].ID, got[50].ID)
	}
}

func TestResolverSkipsMalformedRecords(t *testing.T) {
	f := newFakeRemote("")
	f.records["@bad"] = `{"NickName":"no id"}`
	r := NewResolver(f, 50, nil)

	got, err := r.Resolve(context.Background(), []string{"@ok", "@bad"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "@ok" {
		t.Errorf("got %v, want only @ok", got)
	}
	if r.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", r.Skipped())
	}
}

func TestResolverStopsOnCancel(t *testing.T) {
	f := newFakeRemote("")
	r := NewResolver(f, 50, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := r.Resolve(ctx, makeIDs(150), func([]store.Contact) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if _, _, batches := f.calls(); len(batches) != 1 {
		t.Errorf("lookup calls = %d, want 1", len(batches))
	}
}

func TestResolverDropsPageArrivingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lookup := lookupFunc(func(_ context.Context, ids []string) ([]gjson.Result, error) {
		// The response arrives just as the caller gives up.
		cancel()
		return []gjson.Result{gjson.Parse(`{"UserName":"@late","NickName":"Late"}`)}, nil
	})
	r := NewResolver(lookup, 50, nil)

	delivered := 0
	got, err := r.Resolve(ctx, []string{"@late"}, func([]store.Contact) { delivered++ })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if delivered != 0 || len(got) != 0 {
		t.Errorf("delivered %d pages, returned %v; want nothing", delivered, got)
	}
}

func TestNewResolverClampsPageSize(t *testing.T) {
	for _, size := range []int{0, -1, 51, 500} {
		if r := NewResolver(nil, size, nil); r.pageSize != 50 {
			t.Errorf("NewResolver(%d).pageSize = %d, want 50", size, r.pageSize)
		}
	}
}
