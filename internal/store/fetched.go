package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertFetched mirrors records into fetched_records inside one transaction.
// Rows are keyed on (conversation_id, message_id); existing rows are left
// untouched, matching the append-only semantics of the in-memory Store.
// Each call is numbered as one merge batch per conversation so ListFetched
// can replay the batches in their original order.
func (db *DB) UpsertFetched(records []FetchedRecord) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	batches := make(map[string]int64)
	var inserted int64
	for _, r := range records {
		batch, ok := batches[r.ConversationID]
		if !ok {
			if err := tx.QueryRow(`SELECT COALESCE(MAX(merge_batch), 0) + 1 FROM fetched_records WHERE conversation_id = ?`,
				r.ConversationID).Scan(&batch); err != nil {
				return 0, fmt.Errorf("next merge batch: %w", err)
			}
			batches[r.ConversationID] = batch
		}
		res, err := tx.Exec(`
			INSERT INTO fetched_records (conversation_id, message_id, timestamp, sender_is_self, kind, mime_type, caption, payload_ref, merge_batch, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, message_id) DO NOTHING`,
			r.ConversationID, r.MessageID, r.Timestamp, r.SenderIsSelf, string(r.Kind), r.MimeType(), r.Caption(), r.RawPayloadRef, batch, now)
		if err != nil {
			return 0, fmt.Errorf("insert record %q: %w", r.MessageID, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ListFetched returns the mirrored records of a conversation grouped by
// merge batch, each batch in insertion order. Merging the batches into a
// Store one by one reproduces the order the records were first merged in.
func (db *DB) ListFetched(conversationID string) ([][]FetchedRecord, error) {
	rows, err := db.Query(`
		SELECT conversation_id, message_id, timestamp, sender_is_self, kind, mime_type, caption, payload_ref, merge_batch
		FROM fetched_records
		WHERE conversation_id = ?
		ORDER BY merge_batch ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var (
		out  [][]FetchedRecord
		last int64 = -1
	)
	for rows.Next() {
		var (
			r        FetchedRecord
			kind     string
			mimeType string
			caption  string
			batch    int64
		)
		if err := rows.Scan(&r.ConversationID, &r.MessageID, &r.Timestamp, &r.SenderIsSelf, &kind, &mimeType, &caption, &r.RawPayloadRef, &batch); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		if mimeType != "" || caption != "" {
			r.Media = &MediaMetadata{MimeType: mimeType, Caption: caption}
		}
		if batch != last || len(out) == 0 {
			out = append(out, nil)
			last = batch
		}
		out[len(out)-1] = append(out[len(out)-1], r)
	}
	return out, rows.Err()
}

// FetchedCount returns how many records are mirrored for a conversation.
func (db *DB) FetchedCount(conversationID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM fetched_records WHERE conversation_id = ?`, conversationID).Scan(&count)
	return count, err
}

// LatestFetched returns the newest mirrored record of a conversation.
func (db *DB) LatestFetched(conversationID string) (*FetchedRecord, error) {
	var (
		r        FetchedRecord
		kind     string
		mimeType string
		caption  string
	)
	err := db.QueryRow(`
		SELECT conversation_id, message_id, timestamp, sender_is_self, kind, mime_type, caption, payload_ref
		FROM fetched_records
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`, conversationID).
		Scan(&r.ConversationID, &r.MessageID, &r.Timestamp, &r.SenderIsSelf, &kind, &mimeType, &caption, &r.RawPayloadRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Kind = Kind(kind)
	if mimeType != "" || caption != "" {
		r.Media = &MediaMetadata{MimeType: mimeType, Caption: caption}
	}
	return &r, nil
}
