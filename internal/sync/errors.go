package sync

import (
	"errors"
	"fmt"
)

// ErrCursorStalled is reported when the remote hands back a batch ending on
// a message the loop has already seen, which would otherwise page forever.
var ErrCursorStalled = errors.New("cursor did not advance")

// TransientFetchError wraps a fetch failure that survived all retries.
// It aborts only the loop of the conversation it belongs to.
type TransientFetchError struct {
	ConversationID string
	Batch          int
	Err            error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch batch %d for %s: %v", e.Batch, e.ConversationID, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}
