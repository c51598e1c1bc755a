package index

import (
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mkumaran/message-search/internal/tokenizer"
	apperrors "github.com/mkumaran/message-search/pkg/errors"
)

// Scorer computes the relevance of one candidate record. matched is the
// number of distinct query terms present in the record; queryTerms is the
// total number of distinct terms in the query. Higher scores rank first.
type Scorer func(rec Record, matched, queryTerms int) float64

// MatchCountScorer is the default ranking: records matching more distinct
// query terms score higher. Ties are always broken by record ID, so results
// are deterministic regardless of the scorer in use.
func MatchCountScorer(_ Record, matched, _ int) float64 {
	return float64(matched)
}

// Result is one page of a search plus the total match count before slicing.
type Result struct {
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Items    []Record `json:"results"`
}

// Engine answers searches against a snapshot. It never performs I/O and
// never returns an error other than invalid pagination arguments.
type Engine struct {
	maxPageSize       int
	substringFallback bool
	scorer            Scorer
}

// EngineOptions configures a query engine.
type EngineOptions struct {
	// MaxPageSize caps page_size; larger requests are clamped, not rejected.
	MaxPageSize int
	// SubstringFallback enables a linear substring scan when no query term
	// has postings, so near-miss queries still find records.
	SubstringFallback bool
	// Scorer overrides the ranking formula. Nil means MatchCountScorer.
	Scorer Scorer
}

// NewEngine creates a query engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.Scorer == nil {
		opts.Scorer = MatchCountScorer
	}
	return &Engine{
		maxPageSize:       opts.MaxPageSize,
		substringFallback: opts.SubstringFallback,
		scorer:            opts.Scorer,
	}
}

// Search tokenizes query with the same tokenizer used at index time, matches
// records containing any query term, ranks them, and returns the requested
// page along with the total match count.
//
// A blank query (or one that normalises to zero terms) returns zero results.
// A page past the end returns an empty item list with the correct total.
// A nil snapshot (no refresh published yet) returns zero results.
func (e *Engine) Search(snap *Snapshot, query string, page, pageSize int) (Result, error) {
	if page < 1 {
		return Result{}, apperrors.Newf(apperrors.ErrInvalidArgument, http.StatusBadRequest, "page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return Result{}, apperrors.Newf(apperrors.ErrInvalidArgument, http.StatusBadRequest, "page_size must be >= 1, got %d", pageSize)
	}
	if pageSize > e.maxPageSize {
		pageSize = e.maxPageSize
	}
	result := Result{Page: page, PageSize: pageSize, Items: []Record{}}
	if snap == nil {
		return result, nil
	}

	trimmed := strings.TrimSpace(query)
	if isUUID(trimmed) {
		return e.paginate(result, snap, matchExactID(snap, trimmed))
	}

	terms := tokenizer.TokenSet(query)
	if len(terms) == 0 {
		return result, nil
	}

	matchCounts := make(map[string]int)
	for term := range terms {
		for _, id := range snap.Postings(term) {
			matchCounts[id]++
		}
	}

	var ordered []string
	if len(matchCounts) == 0 {
		if !e.substringFallback {
			return result, nil
		}
		// No term matched anything; fall back to a substring scan so that
		// queries like partial words still have a chance to hit.
		ordered = matchSubstring(snap, strings.ToLower(trimmed))
	} else {
		ordered = e.rank(snap, matchCounts, len(terms))
	}
	return e.paginate(result, snap, ordered)
}

// rank orders candidate IDs by score descending, record ID ascending.
func (e *Engine) rank(snap *Snapshot, matchCounts map[string]int, queryTerms int) []string {
	type scored struct {
		id    string
		score float64
	}
	candidates := make([]scored, 0, len(matchCounts))
	for id, matched := range matchCounts {
		rec, ok := snap.Record(id)
		if !ok {
			// Postings referencing a record outside the snapshot would be a
			// builder bug; Build constructs both tables together.
			panic("index: postings entry references unknown record " + id)
		}
		candidates = append(candidates, scored{id: id, score: e.scorer(rec, matched, queryTerms)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	ordered := make([]string, len(candidates))
	for i, c := range candidates {
		ordered[i] = c.id
	}
	return ordered
}

// paginate fills in Total and the page slice for the ordered ID list.
func (e *Engine) paginate(result Result, snap *Snapshot, ordered []string) (Result, error) {
	result.Total = len(ordered)
	// A page offset that cannot be represented is necessarily past the end;
	// computing it anyway would overflow into a negative slice index.
	if result.Page-1 > math.MaxInt/result.PageSize {
		return result, nil
	}
	start := (result.Page - 1) * result.PageSize
	if start >= len(ordered) {
		return result, nil
	}
	end := start + result.PageSize
	if end > len(ordered) {
		end = len(ordered)
	}
	result.Items = make([]Record, 0, end-start)
	for _, id := range ordered[start:end] {
		rec, _ := snap.Record(id)
		result.Items = append(result.Items, rec)
	}
	return result, nil
}

// matchExactID returns IDs of records whose ID or user ID equals q. Queries
// that are literal UUIDs want the one record they name, not every record
// whose text happens to share a token with the UUID's hex fragments.
func matchExactID(snap *Snapshot, q string) []string {
	var ids []string
	for _, id := range snap.IDs() {
		rec, _ := snap.Record(id)
		if rec.ID == q || rec.UserID == q {
			ids = append(ids, id)
		}
	}
	return ids
}

// matchSubstring returns IDs of records containing q as a raw substring, in
// ascending ID order.
func matchSubstring(snap *Snapshot, q string) []string {
	if q == "" {
		return nil
	}
	var ids []string
	for _, id := range snap.IDs() {
		rec, _ := snap.Record(id)
		if rec.matchesSubstring(q) {
			ids = append(ids, id)
		}
	}
	return ids
}

// isUUID reports whether s is a canonical dashed UUID.
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
