package store

import "fmt"

// RecordManifest mirrors the manifest rows of a run. A row for the same
// (conversation_id, file_name) is replaced, since the file on disk was
// overwritten by the newer run.
func (db *DB) RecordManifest(rows []ManifestRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO manifest_entries (run_id, conversation_id, file_name, storage_path, source_message_id, mime_type, byte_size, downloaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, file_name) DO UPDATE SET
				run_id = excluded.run_id,
				storage_path = excluded.storage_path,
				byte_size = excluded.byte_size,
				downloaded_at = excluded.downloaded_at`,
			r.RunID, r.ConversationID, r.FileName, r.StoragePath, r.SourceMessageID, r.MimeType, r.ByteSize, r.DownloadedAt); err != nil {
			return fmt.Errorf("insert manifest row %q: %w", r.FileName, err)
		}
	}
	return tx.Commit()
}
