package index

import (
	"fmt"
	"sync"
	"testing"
)

func TestStoreStartsNotReady(t *testing.T) {
	store := NewStore()
	if store.Ready() {
		t.Error("new store reports ready")
	}
	if store.Acquire() != nil {
		t.Error("new store returned a snapshot")
	}
}

func TestStorePublishAndAcquire(t *testing.T) {
	store := NewStore()
	snap := Build([]Record{{ID: "1", Text: "hello"}})
	store.Publish(snap)
	if !store.Ready() {
		t.Error("store not ready after publish")
	}
	if store.Acquire() != snap {
		t.Error("Acquire returned a different snapshot")
	}
}

// Each snapshot generation is internally consistent: every record's text
// embeds its generation number, so a reader that sees records from two
// generations caught a torn snapshot.
func TestStoreConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	store := NewStore()
	store.Publish(buildGeneration(0))

	const (
		readers     = 16
		generations = 50
	)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Acquire()
				var gen string
				for _, id := range snap.IDs() {
					rec, ok := snap.Record(id)
					if !ok {
						t.Error("record table missing an ID the snapshot lists")
						return
					}
					if gen == "" {
						gen = rec.Text
					} else if rec.Text != gen {
						t.Errorf("mixed generations in one snapshot: %q vs %q", gen, rec.Text)
						return
					}
				}
				for _, id := range snap.Postings(gen) {
					if _, ok := snap.Record(id); !ok {
						t.Errorf("postings reference record %s outside the snapshot", id)
						return
					}
				}
			}
		}()
	}

	for g := 1; g <= generations; g++ {
		store.Publish(buildGeneration(g))
	}
	close(stop)
	wg.Wait()
}

func buildGeneration(g int) *Snapshot {
	gen := fmt.Sprintf("gen%d", g)
	records := make([]Record, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, Record{
			ID:   fmt.Sprintf("doc-%d", i),
			Text: gen,
		})
	}
	return Build(records)
}
