package index

import (
	"strings"
	"time"
)

// Record is a single message as indexed. Records are immutable once they are
// part of a snapshot; a refresh produces new Record values rather than
// mutating old ones.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SearchableText returns the text the record is indexed under. Author names
// are searchable alongside the message body, matching what the upstream
// exposes to its own consumers.
func (r Record) SearchableText() string {
	if r.Author == "" {
		return r.Text
	}
	return r.Text + " " + r.Author
}

// matchesSubstring reports whether q (already lowercased) appears anywhere in
// the record's searchable text. Used by the query engine's fallback scan.
func (r Record) matchesSubstring(q string) bool {
	return strings.Contains(strings.ToLower(r.SearchableText()), q)
}
