package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink persists downloaded payloads under a conversation-scoped location.
type Sink interface {
	Put(ctx context.Context, label, fileName string, data []byte) (storagePath string, err error)
}

// DirSink writes payloads to <root>/<label>/<fileName>.
type DirSink struct {
	root string
}

// NewDirSink creates a sink rooted at dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{root: dir}
}

// Put writes data atomically and returns the absolute file path.
func (s *DirSink) Put(_ context.Context, label, fileName string, data []byte) (string, error) {
	dir := filepath.Join(s.root, SanitizeLabel(label))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return "", err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmp, perm)
	}
	if werr == nil {
		werr = os.Rename(tmp, path)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, werr)
	}
	return nil
}
