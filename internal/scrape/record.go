// Package scrape loads message transcripts extracted by browser automation.
package scrape

import "github.com/matheus3301/wppsync/internal/store"

// Record is one message observed in a scraped transcript. Records are
// immutable once loaded. SequenceIndex is the position in the original
// chronological transcript and the only ordering signal when Timestamp is nil.
type Record struct {
	SequenceIndex int            `json:"sequence_index"`
	Content       string         `json:"content"`
	Kind          store.Kind     `json:"kind"`
	IsOutbound    bool           `json:"is_outbound"`
	Timestamp     *int64         `json:"timestamp,omitempty"`
	QuotedRef     *string        `json:"quoted_ref,omitempty"`
	MediaRefs     []string       `json:"media_refs,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// IsMediaBearing reports whether the record references media, either
// through explicit media refs or through its kind.
func (r *Record) IsMediaBearing() bool {
	return len(r.MediaRefs) > 0 || r.Kind.IsMedia()
}
