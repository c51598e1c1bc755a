// Package tracing provides lightweight spans for timing the phases of a
// refresh cycle. Spans are logged as structured slog records when ended;
// there is no external trace backend.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed phase of an operation.
type Span struct {
	name    string
	traceID string
	start   time.Time
	mu      sync.Mutex
	attrs   []any
}

// Start creates a span and stores it in the returned context so nested
// phases can attach attributes to it.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{
		name:    name,
		traceID: traceID,
		start:   time.Now(),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// FromContext returns the span stored in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// SetAttr attaches a key-value pair to the span's log record.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// End logs the span with its duration and collected attributes.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.traceID,
		"span", s.name,
		"duration_ms", time.Since(s.start).Milliseconds(),
	}, s.attrs...)
	s.mu.Unlock()
	slog.Info("span", attrs...)
}
