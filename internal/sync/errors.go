package sync

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured means the remote store is unreachable or not set up.
	// Sync cycles treat it as a quiet no-op, not a loud failure.
	ErrNotConfigured = errors.New("remote store not configured")

	// ErrNotSignedIn means no user session exists. Same quiet treatment.
	ErrNotSignedIn = errors.New("not signed in")
)

// isCancellation reports whether an error is the result of the coordinator
// being stopped or a request being superseded. Cancellations are filtered
// from user-visible logs.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
