package media

import (
	"errors"
	"fmt"
)

// ErrNotCorrelated is returned by Acquire for a result without a match.
var ErrNotCorrelated = errors.New("result has no matched record")

// EmptyPayloadError reports a download that returned no bytes. It is
// counted and skipped, never retried within a run.
type EmptyPayloadError struct {
	MessageID string
}

func (e *EmptyPayloadError) Error() string {
	return fmt.Sprintf("empty payload for message %s", e.MessageID)
}

// PersistenceError reports a failed write of a media file or artifact.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
