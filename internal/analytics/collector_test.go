package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkumaran/message-search/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	failN   int
}

func (p *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN > 0 {
		p.failN--
		return errors.New("broker unavailable")
	}
	batch := make([]kafka.Event, len(events))
	copy(batch, events)
	p.batches = append(p.batches, batch)
	return nil
}

func (p *fakePublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestTrackFlushesFullBatch(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 3, time.Hour)

	for i := 0; i < 3; i++ {
		c.Track(SearchEvent{Type: EventSearch, Query: "hello"})
	}

	waitFor(t, func() bool { return pub.published() == 3 })
	if c.BufferLen() != 0 {
		t.Errorf("buffer not drained after flush, len = %d", c.BufferLen())
	}
}

func TestPartialBatchFlushedOnInterval(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.Track(SearchEvent{Type: EventSearch, Query: "hello"})
	c.Track(SearchEvent{Type: EventZeroResult, Query: "zzz"})

	waitFor(t, func() bool { return pub.published() == 2 })
}

func TestFinalFlushOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(SearchEvent{Type: EventSearch, Query: "hello"})
	cancel()
	c.Close()

	if got := pub.published(); got != 1 {
		t.Errorf("published = %d events after shutdown, want 1", got)
	}
}

func TestFailedFlushRequeues(t *testing.T) {
	pub := &fakePublisher{failN: 1}
	c := NewCollector(pub, 2, time.Hour)

	c.Track(SearchEvent{Type: EventSearch, Query: "a"})
	c.Track(SearchEvent{Type: EventSearch, Query: "b"})

	// First flush fails and the batch goes back into the buffer.
	waitFor(t, func() bool { return c.BufferLen() == 2 })

	// The next full batch drains the re-queued events too.
	c.Track(SearchEvent{Type: EventSearch, Query: "c"})
	waitFor(t, func() bool { return pub.published() == 3 })
}

func TestNilCollectorTrackIsSafe(t *testing.T) {
	var c *Collector
	c.Track(SearchEvent{Type: EventSearch, Query: "hello"}) // must not panic
}
