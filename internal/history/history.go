// Package history provides the append-only message log consumed by the
// routing core: an interface plus an in-memory and a Redis-backed store.
package history

import (
	"context"

	"github.com/averill/relaychat/internal/protocol"
)

// Store is the durable message log. The router appends every routed message
// and reads recent history to prime newly joined clients. Append failures
// degrade the sender's acknowledgment but never interrupt live delivery.
type Store interface {
	// Append durably records a routed message.
	Append(ctx context.Context, msg protocol.Message) error

	// Recent returns up to limit of the room's most recent messages in
	// chronological order. An unknown room yields an empty slice.
	Recent(ctx context.Context, roomID string, limit int) ([]protocol.Message, error)
}
