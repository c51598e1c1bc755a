// Package audit records the outcome of every refresh cycle in postgres so
// operators can answer "when did we last successfully refresh, and what did
// we get" after the fact. It is an audit trail, not index persistence.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkumaran/message-search/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS refresh_cycles (
	id          BIGSERIAL PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	fetched     INTEGER NOT NULL DEFAULT 0,
	docs        INTEGER NOT NULL DEFAULT 0,
	terms       INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
)`

// Cycle is one refresh cycle's audit record.
type Cycle struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string // "published" or "fetch_failed"
	Fetched    int
	Docs       int
	Terms      int
	Error      string
}

// Store writes refresh cycle rows. A nil *Store is valid and records nothing,
// so callers need no conditional wiring when postgres is not configured.
type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewStore creates the audit table if needed and returns a Store.
func NewStore(ctx context.Context, client *postgres.Client) (*Store, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating refresh_cycles table: %w", err)
	}
	return &Store{
		client: client,
		logger: slog.Default().With("component", "audit"),
	}, nil
}

// RecordCycle inserts one audit row. Failures are logged, not propagated: a
// broken audit database must never break refreshes.
func (s *Store) RecordCycle(ctx context.Context, c Cycle) {
	if s == nil {
		return
	}
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO refresh_cycles (started_at, finished_at, status, fetched, docs, terms, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.StartedAt, c.FinishedAt, c.Status, c.Fetched, c.Docs, c.Terms, c.Error,
	)
	if err != nil {
		s.logger.Error("failed to record refresh cycle", "status", c.Status, "error", err)
	}
}
