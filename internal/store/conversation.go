package store

import (
	"sort"
	"sync"
)

// Store accumulates fetched records per conversation, deduplicated by
// message id and kept in ascending timestamp order.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*conversation
}

type conversation struct {
	seen    map[string]struct{}
	entries []entry
	seq     int
	// highest timestamp merged so far; anchors records without one.
	maxTS int64
}

type entry struct {
	rec     FetchedRecord
	sortKey int64
	untimed bool
	seq     int
}

// New creates an empty store.
func New() *Store {
	return &Store{convs: make(map[string]*conversation)}
}

// Merge inserts the records whose message id is not yet present for the
// conversation and returns the inserted subset. Merging the same batch
// twice is a no-op on the second call.
//
// Records without a timestamp sort after every timestamped record of their
// own or an earlier batch; insertion order breaks ties.
func (s *Store) Merge(conversationID string, records []FetchedRecord) []FetchedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		c = &conversation{seen: make(map[string]struct{})}
		s.convs[conversationID] = c
	}
	for _, r := range records {
		if r.Timestamp > c.maxTS {
			c.maxTS = r.Timestamp
		}
	}

	var inserted []FetchedRecord
	for _, r := range records {
		if r.MessageID == "" {
			continue
		}
		if _, dup := c.seen[r.MessageID]; dup {
			continue
		}
		c.seen[r.MessageID] = struct{}{}
		if r.ConversationID == "" {
			r.ConversationID = conversationID
		}
		e := entry{rec: r, sortKey: r.Timestamp, seq: c.seq}
		if r.Timestamp == 0 {
			e.untimed = true
			e.sortKey = c.maxTS
		}
		c.seq++
		c.entries = append(c.entries, e)
		inserted = append(inserted, r)
	}

	if len(inserted) > 0 {
		sort.SliceStable(c.entries, func(i, j int) bool {
			a, b := c.entries[i], c.entries[j]
			if a.sortKey != b.sortKey {
				return a.sortKey < b.sortKey
			}
			if a.untimed != b.untimed {
				return !a.untimed
			}
			return a.seq < b.seq
		})
	}
	return inserted
}

// All returns a copy of the conversation's records in store order.
func (s *Store) All(conversationID string) []FetchedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.convs[conversationID]
	if c == nil {
		return nil
	}
	out := make([]FetchedRecord, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.rec
	}
	return out
}

// Len returns the number of records held for the conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.convs[conversationID]; c != nil {
		return len(c.entries)
	}
	return 0
}
