// Package refresher runs the periodic fetch-build-publish cycle that keeps
// the active index snapshot fresh. A cycle moves Idle -> Fetching -> Building
// -> Publishing -> Idle; any failure logs, counts, and returns to Idle with
// the previously published snapshot untouched. Stale-but-available beats
// empty-but-fresh.
package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mkumaran/message-search/internal/audit"
	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/pkg/config"
	apperrors "github.com/mkumaran/message-search/pkg/errors"
	"github.com/mkumaran/message-search/pkg/metrics"
	"github.com/mkumaran/message-search/pkg/resilience"
	"github.com/mkumaran/message-search/pkg/tracing"
)

// Fetcher yields the full current record set or a fetch failure.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]index.Record, error)
}

// Published is called after each successful snapshot publish. The cache uses
// it to drop pages computed against the replaced snapshot.
type Published func(snap *index.Snapshot)

// Refresher owns the background refresh loop.
type Refresher struct {
	fetcher     Fetcher
	store       *index.Store
	cfg         config.RefreshConfig
	metrics     *metrics.Metrics
	auditStore  *audit.Store
	onPublished Published
	logger      *slog.Logger
	running     atomic.Bool
}

// Options wires the refresher's collaborators. Metrics, AuditStore, and
// OnPublished are optional.
type Options struct {
	Fetcher     Fetcher
	Store       *index.Store
	Config      config.RefreshConfig
	Metrics     *metrics.Metrics
	AuditStore  *audit.Store
	OnPublished Published
}

// New creates a Refresher.
func New(opts Options) *Refresher {
	return &Refresher{
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		cfg:         opts.Config,
		metrics:     opts.Metrics,
		auditStore:  opts.AuditStore,
		onPublished: opts.OnPublished,
		logger:      slog.Default().With("component", "refresher"),
	}
}

// Run executes the refresh loop until ctx is cancelled. When the config asks
// for a startup refresh, one cycle runs immediately so the service does not
// sit on an empty index waiting for the first tick.
func (r *Refresher) Run(ctx context.Context) {
	if r.cfg.OnStartup {
		if err := r.RefreshNow(ctx); err != nil {
			r.logger.Error("startup refresh failed, serving will wait for a later cycle", "error", err)
		}
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.RefreshNow(ctx); err != nil {
				r.logger.Error("refresh cycle failed", "error", err)
			}
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return
		}
	}
}

// RefreshNow runs one fetch-build-publish cycle. Cycles are not reentrant;
// a call that overlaps a running cycle is skipped rather than queued.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.countCycle("skipped")
		r.logger.Warn("refresh already in progress, skipping trigger")
		return nil
	}
	defer r.running.Store(false)

	started := time.Now()
	ctx, span := tracing.Start(ctx, "refresh-cycle", uuid.NewString())
	defer span.End()

	// Fetching. The fetch holds no lock and is bounded by a timeout, so a
	// hung upstream neither blocks queries nor starves future cycles.
	var records []index.Record
	err := resilience.WithTimeout(ctx, r.cfg.Timeout, "fetch", func(ctx context.Context) error {
		var fetchErr error
		records, fetchErr = r.fetcher.FetchAll(ctx)
		return fetchErr
	})
	if err != nil {
		r.countCycle("fetch_failed")
		span.SetAttr("status", "fetch_failed")
		r.recordAudit(started, "fetch_failed", 0, nil, err)
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamUnavailable, err)
	}
	span.SetAttr("fetched", len(records))

	// Building happens entirely off the query path; readers keep hitting
	// the old snapshot until the pointer swap below.
	snap := index.Build(records)
	span.SetAttr("docs", snap.DocCount())
	span.SetAttr("terms", snap.TermCount())

	// Publishing is a single atomic pointer swap.
	r.store.Publish(snap)
	if r.onPublished != nil {
		r.onPublished(snap)
	}

	elapsed := time.Since(started)
	r.countCycle("published")
	if r.metrics != nil {
		r.metrics.RefreshDuration.Observe(elapsed.Seconds())
		r.metrics.LastRefreshUnixtime.SetToCurrentTime()
		r.metrics.SnapshotDocs.Set(float64(snap.DocCount()))
		r.metrics.SnapshotTerms.Set(float64(snap.TermCount()))
	}
	r.recordAudit(started, "published", len(records), snap, nil)
	r.logger.Info("snapshot published",
		"fetched", len(records),
		"docs", snap.DocCount(),
		"terms", snap.TermCount(),
		"duration", elapsed.Round(time.Millisecond),
	)
	return nil
}

func (r *Refresher) countCycle(status string) {
	if r.metrics != nil {
		r.metrics.RefreshCyclesTotal.WithLabelValues(status).Inc()
	}
}

func (r *Refresher) recordAudit(started time.Time, status string, fetched int, snap *index.Snapshot, cycleErr error) {
	cycle := audit.Cycle{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     status,
		Fetched:    fetched,
	}
	if snap != nil {
		cycle.Docs = snap.DocCount()
		cycle.Terms = snap.TermCount()
	}
	if cycleErr != nil {
		cycle.Error = cycleErr.Error()
	}
	// Audit writes get their own short deadline; the cycle context may
	// already be cancelled or expired.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.auditStore.RecordCycle(ctx, cycle)
}
