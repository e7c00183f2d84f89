// Package sink provides the client for the downstream commit sink: the
// version-controlled store that changed documents are pushed to. The
// backend itself is opaque; pushes are idempotent on identical content.
package sink

import (
	"context"
	"errors"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

// ErrTransient wraps sink failures that may resolve on retry: network
// errors, overload responses and server-side errors. Check with
// errors.Is().
var ErrTransient = errors.New("transient sink error")

// Sink accepts canonical documents keyed by record ID and returns a
// commit reference per accepted push. Delivery is at-least-once.
type Sink interface {
	// Push uploads a document's current content. Repeated pushes of
	// identical content are idempotent on the sink side.
	Push(ctx context.Context, recordID string, content domain.JSONBMap) (string, error)
	// Remove records a deletion for the given record.
	Remove(ctx context.Context, recordID string) (string, error)
}

// IsTransient reports whether a push failure is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
