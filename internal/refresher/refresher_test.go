package refresher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/pkg/config"
	apperrors "github.com/mkumaran/message-search/pkg/errors"
)

// fakeFetcher returns queued responses in order, blocking first if a gate is
// set.
type fakeFetcher struct {
	mu        sync.Mutex
	responses []fetchResponse
	calls     int
	gate      chan struct{}
}

type fetchResponse struct {
	records []index.Record
	err     error
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]index.Record, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return nil, errors.New("no queued response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp.records, resp.err
}

func testConfig() config.RefreshConfig {
	return config.RefreshConfig{
		Interval: time.Hour, // ticks irrelevant; tests drive RefreshNow directly
		Timeout:  time.Second,
	}
}

func TestRefreshNowPublishesSnapshot(t *testing.T) {
	store := index.NewStore()
	fetcher := &fakeFetcher{responses: []fetchResponse{
		{records: []index.Record{{ID: "1", Text: "hello world"}}},
	}}
	r := New(Options{Fetcher: fetcher, Store: store, Config: testConfig()})

	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	snap := store.Acquire()
	if snap == nil {
		t.Fatal("no snapshot published")
	}
	if snap.DocCount() != 1 {
		t.Errorf("DocCount = %d, want 1", snap.DocCount())
	}
}

func TestFailedFetchKeepsPreviousSnapshot(t *testing.T) {
	store := index.NewStore()
	fetcher := &fakeFetcher{responses: []fetchResponse{
		{records: []index.Record{{ID: "1", Text: "stable content"}}},
		{err: errors.New("upstream down")},
	}}
	r := New(Options{Fetcher: fetcher, Store: store, Config: testConfig()})

	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	before := store.Acquire()

	err := r.RefreshNow(context.Background())
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("failed cycle error = %v, want ErrUpstreamUnavailable", err)
	}
	after := store.Acquire()
	if before != after {
		t.Error("failed cycle replaced the active snapshot")
	}
	// Content untouched, not just the pointer.
	rec, ok := after.Record("1")
	if !ok || rec.Text != "stable content" {
		t.Errorf("snapshot content changed after failed cycle: %+v", rec)
	}
}

func TestRefreshCyclesAreNotReentrant(t *testing.T) {
	store := index.NewStore()
	gate := make(chan struct{})
	fetcher := &fakeFetcher{
		gate:      gate,
		responses: []fetchResponse{{records: []index.Record{{ID: "1", Text: "x"}}}},
	}
	r := New(Options{Fetcher: fetcher, Store: store, Config: testConfig()})

	done := make(chan error, 1)
	go func() { done <- r.RefreshNow(context.Background()) }()

	// Wait for the first cycle to be inside the fetch.
	deadline := time.After(time.Second)
	for !r.running.Load() {
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		case <-time.After(time.Millisecond):
		}
	}

	// An overlapping trigger is skipped, not queued.
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Errorf("overlapping trigger returned %v, want nil skip", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls)
	}
}

func TestFetchTimeoutFailsCycle(t *testing.T) {
	store := index.NewStore()
	fetcher := &fakeFetcher{gate: make(chan struct{})} // never opens
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	r := New(Options{Fetcher: fetcher, Store: store, Config: cfg})

	err := r.RefreshNow(context.Background())
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("hung fetch error = %v, want ErrUpstreamUnavailable", err)
	}
	if store.Ready() {
		t.Error("hung fetch still published a snapshot")
	}
}

func TestOnPublishedCallback(t *testing.T) {
	store := index.NewStore()
	fetcher := &fakeFetcher{responses: []fetchResponse{
		{records: []index.Record{{ID: "1", Text: "a"}, {ID: "2", Text: "b"}}},
	}}
	var published atomic.Int32
	var gotDocs int
	r := New(Options{
		Fetcher: fetcher,
		Store:   store,
		Config:  testConfig(),
		OnPublished: func(snap *index.Snapshot) {
			published.Add(1)
			gotDocs = snap.DocCount()
		},
	})
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if published.Load() != 1 {
		t.Fatalf("OnPublished called %d times, want 1", published.Load())
	}
	if gotDocs != 2 {
		t.Errorf("OnPublished saw %d docs, want 2", gotDocs)
	}
}

func TestRefreshReplacesSnapshotOnIDChurn(t *testing.T) {
	store := index.NewStore()
	fetcher := &fakeFetcher{responses: []fetchResponse{
		{records: []index.Record{{ID: "old-1", Text: "first generation"}}},
		{records: []index.Record{{ID: "new-7", Text: "second generation"}}},
	}}
	r := New(Options{Fetcher: fetcher, Store: store, Config: testConfig()})

	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	snap := store.Acquire()
	if diff := cmp.Diff([]string{"new-7"}, snap.IDs()); diff != "" {
		t.Errorf("snapshot after churn (-want +got):\n%s", diff)
	}
}
