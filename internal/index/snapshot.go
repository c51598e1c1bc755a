// Package index implements the in-memory inverted index at the heart of the
// search service: immutable snapshots built from a full set of records, an
// atomically swapped active-snapshot store, and the query engine that answers
// paginated token-overlap searches against a snapshot.
package index

import (
	"sort"

	"github.com/google/uuid"

	"github.com/mkumaran/message-search/internal/tokenizer"
)

// Snapshot is one complete, internally consistent index generation: the
// record table and the postings that reference it, built together. A snapshot
// is never modified after Build returns, which is what lets any number of
// readers share it without locking.
type Snapshot struct {
	gen      string
	records  map[string]Record
	ids      []string            // record IDs in ascending order
	postings map[string][]string // term -> sorted record IDs
}

// Build constructs a Snapshot from a full record set. Duplicate IDs are
// deduplicated with last-write-wins. An empty or nil input yields a valid
// empty snapshot, not an error.
func Build(records []Record) *Snapshot {
	snap := &Snapshot{
		gen:      uuid.NewString(),
		records:  make(map[string]Record, len(records)),
		postings: make(map[string][]string),
	}
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		snap.records[rec.ID] = rec
	}
	snap.ids = make([]string, 0, len(snap.records))
	for id := range snap.records {
		snap.ids = append(snap.ids, id)
	}
	sort.Strings(snap.ids)

	for _, id := range snap.ids {
		rec := snap.records[id]
		for term := range tokenizer.TokenSet(rec.SearchableText()) {
			snap.postings[term] = append(snap.postings[term], id)
		}
	}
	return snap
}

// Generation uniquely identifies this snapshot. Derived state computed
// against a snapshot (cached result pages, say) should be keyed on it so
// nothing computed against one generation is ever served for another.
func (s *Snapshot) Generation() string {
	return s.gen
}

// Postings returns the sorted record IDs containing term, or nil if the term
// does not occur in the snapshot. Callers must not modify the returned slice.
func (s *Snapshot) Postings(term string) []string {
	return s.postings[term]
}

// Record returns the record with the given ID.
func (s *Snapshot) Record(id string) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// DocCount returns the number of records in the snapshot.
func (s *Snapshot) DocCount() int {
	return len(s.records)
}

// TermCount returns the number of distinct terms in the snapshot.
func (s *Snapshot) TermCount() int {
	return len(s.postings)
}

// IDs returns all record IDs in ascending order. Callers must not modify the
// returned slice.
func (s *Snapshot) IDs() []string {
	return s.ids
}
