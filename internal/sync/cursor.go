package sync

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wppsync/internal/store"
)

// Cursor marks how far back history has been fetched for a conversation.
// A nil *Cursor means start of history. Callers treat it as opaque and only
// pass it back into the next fetch.
type Cursor struct {
	ConversationID  string `json:"conversation_id"`
	LastMessageID   string `json:"last_message_id"`
	LastTimestamp   int64  `json:"last_timestamp"`
	LastFromSelf    bool   `json:"last_from_self,omitempty"`
	BatchesConsumed int    `json:"batches_consumed"`
}

// Advance returns the cursor that follows c after a batch whose last record is last.
func (c *Cursor) Advance(conversationID string, last store.FetchedRecord) *Cursor {
	next := &Cursor{
		ConversationID: conversationID,
		LastMessageID:  last.MessageID,
		LastTimestamp:  last.Timestamp,
		LastFromSelf:   last.SenderIsSelf,
	}
	if c != nil {
		next.BatchesConsumed = c.BatchesConsumed
	}
	next.BatchesConsumed++
	return next
}

// Encode serializes the cursor for checkpoint storage.
func (c *Cursor) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeCursor parses a cursor produced by Encode.
func DecodeCursor(s string) (*Cursor, error) {
	var c Cursor
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if c.LastMessageID == "" {
		return nil, fmt.Errorf("decode cursor: missing last message id")
	}
	return &c, nil
}
