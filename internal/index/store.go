package index

import "sync/atomic"

// Store holds the active snapshot pointer. Snapshots themselves are immutable;
// the pointer swap here is the only synchronization between the background
// refresher and concurrent searches. A query that acquires the pointer just
// before a publish completes against the old snapshot, which is correct.
type Store struct {
	active atomic.Pointer[Snapshot]
}

// NewStore returns a Store with no snapshot published yet.
func NewStore() *Store {
	return &Store{}
}

// Publish atomically replaces the active snapshot. The previous snapshot
// stays valid for readers that already acquired it and is reclaimed by the
// garbage collector once the last of them drops it.
func (s *Store) Publish(snap *Snapshot) {
	s.active.Store(snap)
}

// Acquire returns the current active snapshot, or nil if no refresh has
// published one yet.
func (s *Store) Acquire() *Snapshot {
	return s.active.Load()
}

// Ready reports whether at least one snapshot has been published.
func (s *Store) Ready() bool {
	return s.active.Load() != nil
}
