package chat

import "github.com/averill/relaychat/internal/protocol"

// Peer is the registry's view of a connected, authenticated client. It is a
// back-reference for delivery only; the connection itself stays owned by the
// supervisor that created it.
type Peer interface {
	// ID returns the opaque connection id. Distinct connections of the same
	// user have distinct ids.
	ID() string

	// User returns the identity bound at handshake time. Immutable for the
	// connection's lifetime.
	User() protocol.User

	// Deliver enqueues an event onto the peer's bounded outbound queue
	// without blocking. It reports false when the event was not accepted,
	// in which case the peer is already closing and may be forgotten.
	Deliver(ev *protocol.Event) bool
}
