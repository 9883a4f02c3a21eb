package media

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestEntry describes one successfully downloaded media artifact.
type ManifestEntry struct {
	FileName        string    `json:"file_name"`
	StoragePath     string    `json:"storage_path"`
	SourceMessageID string    `json:"source_message_id"`
	MimeType        string    `json:"mime_type"`
	Caption         string    `json:"caption,omitempty"`
	ByteSize        int64     `json:"byte_size"`
	DownloadedAt    time.Time `json:"downloaded_at"`
}

// WriteManifest flushes the entries of a run to path as a JSON array, once.
// The write is atomic; an interrupted flush leaves any previous file intact.
func WriteManifest(path string, entries []ManifestEntry) error {
	if entries == nil {
		entries = []ManifestEntry{}
	}
	return WriteJSONFile(path, entries)
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return entries, nil
}

// WriteJSONFile atomically writes v as indented JSON, creating parent
// directories. Failures are reported as *PersistenceError.
func WriteJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}
