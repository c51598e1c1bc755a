// Package server implements the HTTP query interface: the search endpoint
// and the liveness/readiness probes. It is thin plumbing over the query
// engine; all matching and ranking decisions live in internal/index.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mkumaran/message-search/internal/analytics"
	"github.com/mkumaran/message-search/internal/cache"
	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/internal/tokenizer"
	"github.com/mkumaran/message-search/pkg/config"
	apperrors "github.com/mkumaran/message-search/pkg/errors"
	"github.com/mkumaran/message-search/pkg/health"
	"github.com/mkumaran/message-search/pkg/logger"
	"github.com/mkumaran/message-search/pkg/metrics"
)

// Handler serves the search API.
type Handler struct {
	engine          *index.Engine
	store           *index.Store
	cache           *cache.QueryCache
	collector       *analytics.Collector
	metrics         *metrics.Metrics
	defaultPageSize int
	logger          *slog.Logger
}

// Options wires the handler's collaborators. Cache, Collector, and Metrics
// are optional.
type Options struct {
	Engine    *index.Engine
	Store     *index.Store
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	Search    config.SearchConfig
}

// New creates a Handler.
func New(opts Options) *Handler {
	defaultPageSize := opts.Search.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = 10
	}
	return &Handler{
		engine:          opts.Engine,
		store:           opts.Store,
		cache:           opts.Cache,
		collector:       opts.Collector,
		metrics:         opts.Metrics,
		defaultPageSize: defaultPageSize,
		logger:          slog.Default().With("component", "search-handler"),
	}
}

// Routes builds the service mux. The health checker decides readiness, which
// for this service means at least one successful refresh has published.
func (h *Handler) Routes(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /search", h.searchCompat)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	return mux
}

// Search answers GET /api/v1/search?q=...&page=...&page_size=...
//
// Missing q or malformed pagination is a 400. Before the first refresh has
// published a snapshot, searches succeed with zero results; readiness is
// reported separately by /health/ready.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.countQuery("invalid")
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		h.countQuery("invalid")
		h.writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	pageSize, err := queryInt(r, "page_size", h.defaultPageSize)
	if err != nil {
		h.countQuery("invalid")
		h.writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}

	snap := h.store.Acquire()
	compute := func() (index.Result, error) {
		return h.engine.Search(snap, query, page, pageSize)
	}

	var result index.Result
	cacheHit := false
	if h.cache != nil && snap != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, snap.Generation(), query, page, pageSize, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidArgument) {
			h.countQuery("invalid")
			h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
			return
		}
		log.Error("search failed", "query", query, "error", err)
		h.countQuery("error")
		h.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	h.observe(result, snap, cacheHit, start)
	h.track(ctx, query, result, cacheHit, start)

	log.Info("search completed",
		"query", query,
		"total", result.Total,
		"returned", len(result.Items),
		"page", result.Page,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// searchCompat serves the pre-v1 path, whose query parameter was named
// search_query. Both spellings are accepted there; q wins when both appear.
func (h *Handler) searchCompat(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if params.Get("q") == "" {
		if legacy := params.Get("search_query"); legacy != "" {
			params.Set("q", legacy)
			r.URL.RawQuery = params.Encode()
		}
	}
	h.Search(w, r)
}

func (h *Handler) observe(result index.Result, snap *index.Snapshot, cacheHit bool, start time.Time) {
	if h.metrics == nil {
		return
	}
	switch {
	case snap == nil:
		h.countQuery("not_ready")
	case result.Total == 0:
		h.countQuery("zero_result")
	default:
		h.countQuery("ok")
	}
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	if h.cache == nil {
		cacheStatus = "disabled"
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(result.Total))
	if cacheHit {
		h.metrics.CacheHitsTotal.Inc()
	} else if h.cache != nil {
		h.metrics.CacheMissesTotal.Inc()
	}
}

func (h *Handler) track(ctx context.Context, query string, result index.Result, cacheHit bool, start time.Time) {
	if h.collector == nil {
		return
	}
	eventType := analytics.EventSearch
	if cacheHit {
		eventType = analytics.EventCacheHit
	} else if result.Total == 0 {
		eventType = analytics.EventZeroResult
	}
	h.collector.Track(analytics.SearchEvent{
		Type:      eventType,
		Query:     query,
		TermCount: len(tokenizer.Tokenize(query)),
		Total:     result.Total,
		Returned:  len(result.Items),
		Page:      result.Page,
		LatencyMs: time.Since(start).Milliseconds(),
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})
}

func (h *Handler) countQuery(outcome string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
