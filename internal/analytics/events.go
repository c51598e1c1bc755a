// Package analytics collects search events and ships them to Kafka in
// batches for downstream analysis. The collector is optional; with no Kafka
// configured the service simply does not emit events.
package analytics

import "time"

// EventType labels a search event.
type EventType string

const (
	EventSearch     EventType = "search"
	EventCacheHit   EventType = "cache_hit"
	EventZeroResult EventType = "zero_result"
)

// SearchEvent describes one answered search request.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	TermCount int       `json:"term_count"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	Page      int       `json:"page"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}
