package wa

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppsync/internal/store"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.uber.org/zap"
)

// ErrRequestInFlight is returned when a conversation already has a history
// request waiting for its response.
var ErrRequestInFlight = errors.New("history request already in flight")

// HistoryRouter hands on-demand history responses to the request waiting
// for them and remembers the newest message seen in every conversation.
// Responses carry no request id, so at most one request per conversation
// may be outstanding.
type HistoryRouter struct {
	mu      sync.Mutex
	pending map[string]chan []store.FetchedRecord
	anchors map[string]store.FetchedRecord
	db      *store.DB
	logger  *zap.Logger
}

// NewHistoryRouter creates a router. When db is set, observed messages are
// mirrored into it so anchors survive restarts.
func NewHistoryRouter(db *store.DB, logger *zap.Logger) *HistoryRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRouter{
		pending: make(map[string]chan []store.FetchedRecord),
		anchors: make(map[string]store.FetchedRecord),
		db:      db,
		logger:  logger,
	}
}

// Await registers for the next on-demand response of chat. The returned
// release func must be called once the caller stops waiting.
func (r *HistoryRouter) Await(chat string) (<-chan []store.FetchedRecord, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[chat]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRequestInFlight, chat)
	}
	ch := make(chan []store.FetchedRecord, 1)
	r.pending[chat] = ch
	return ch, func() {
		r.mu.Lock()
		if r.pending[chat] == ch {
			delete(r.pending, chat)
		}
		r.mu.Unlock()
	}, nil
}

// Deliver routes an on-demand history sync to the waiting requests and
// returns how many were served. Records are handed over newest first, so
// the last one is the oldest.
func (r *HistoryRouter) Deliver(data *waHistorySync.HistorySync) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	convs := data.GetConversations()
	if len(convs) == 0 {
		// An empty response means history is exhausted. It can only be
		// attributed when a single request is waiting.
		if len(r.pending) == 1 {
			for chat, ch := range r.pending {
				r.send(chat, ch, nil)
			}
			return 1
		}
		r.logger.Debug("unattributable empty history response", zap.Int("pending", len(r.pending)))
		return 0
	}

	served := 0
	for _, conv := range convs {
		chat := NormalizeJID(conv.GetID())
		ch, ok := r.pending[chat]
		if !ok {
			r.logger.Debug("history response without a waiting request", zap.String("chat", chat))
			continue
		}
		var recs []store.FetchedRecord
		for _, hm := range conv.GetMessages() {
			if rec, ok := ParseWebMessage(chat, hm.GetMessage()); ok {
				recs = append(recs, rec)
			}
		}
		slices.SortStableFunc(recs, func(a, b store.FetchedRecord) int {
			return cmp.Compare(b.Timestamp, a.Timestamp)
		})
		r.send(chat, ch, recs)
		served++
	}
	return served
}

func (r *HistoryRouter) send(chat string, ch chan []store.FetchedRecord, recs []store.FetchedRecord) {
	select {
	case ch <- recs:
	default:
		r.logger.Warn("dropping duplicate history response", zap.String("chat", chat))
	}
}

// Observe records messages that arrived outside on-demand requests.
func (r *HistoryRouter) Observe(recs []store.FetchedRecord) {
	if len(recs) == 0 {
		return
	}
	r.mu.Lock()
	for _, rec := range recs {
		cur, ok := r.anchors[rec.ConversationID]
		if !ok || rec.Timestamp >= cur.Timestamp {
			r.anchors[rec.ConversationID] = rec
		}
	}
	r.mu.Unlock()

	if r.db == nil {
		return
	}
	if _, err := r.db.UpsertFetched(recs); err != nil {
		r.logger.Warn("failed to mirror observed messages", zap.Int("count", len(recs)), zap.Error(err))
	}
}

// Anchor returns the newest known message of chat.
func (r *HistoryRouter) Anchor(chat string) (store.FetchedRecord, bool) {
	r.mu.Lock()
	rec, ok := r.anchors[chat]
	r.mu.Unlock()
	if ok || r.db == nil {
		return rec, ok
	}

	latest, err := r.db.LatestFetched(chat)
	if err != nil {
		r.logger.Warn("failed to load anchor", zap.String("chat", chat), zap.Error(err))
		return store.FetchedRecord{}, false
	}
	if latest == nil {
		return store.FetchedRecord{}, false
	}
	return *latest, true
}
