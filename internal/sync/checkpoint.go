package sync

import (
	"fmt"

	"github.com/matheus3301/wppsync/internal/store"
)

// Checkpointer persists cursors so a later run can resume a conversation.
type Checkpointer interface {
	SaveCursor(c *Cursor) error
	LoadCursor(conversationID string) (*Cursor, error)
	ClearCursor(conversationID string) error
}

// DBCheckpointer stores cursors in the sync_state table of the app database.
type DBCheckpointer struct {
	db *store.DB
}

// NewDBCheckpointer creates a checkpointer backed by db.
func NewDBCheckpointer(db *store.DB) *DBCheckpointer {
	return &DBCheckpointer{db: db}
}

func cursorKey(conversationID string) string {
	return "cursor:" + conversationID
}

// SaveCursor upserts the cursor for its conversation.
func (c *DBCheckpointer) SaveCursor(cur *Cursor) error {
	if cur == nil {
		return nil
	}
	v, err := cur.Encode()
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	return c.db.SetCheckpoint(cursorKey(cur.ConversationID), v)
}

// LoadCursor returns the stored cursor, or nil when the conversation has none.
func (c *DBCheckpointer) LoadCursor(conversationID string) (*Cursor, error) {
	v, ok, err := c.db.Checkpoint(cursorKey(conversationID))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return DecodeCursor(v)
}

// ClearCursor forgets the stored cursor so the next run starts from the newest message.
func (c *DBCheckpointer) ClearCursor(conversationID string) error {
	return c.db.ClearCheckpoint(cursorKey(conversationID))
}
