package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/averill/relaychat/internal/history"
	"github.com/averill/relaychat/internal/protocol"
)

// Router validates, sequences, persists and fans out chat messages.
//
// All messages for a room pass through the room's lock, so every member
// observes them in the same relative order and sequence numbers are strictly
// increasing with no duplicates or gaps. No ordering holds across rooms.
type Router struct {
	logger   *slog.Logger
	registry *Registry
	store    history.Store
}

// NewRouter wires a router to the registry it fans out through and the
// history store it persists to.
func NewRouter(logger *slog.Logger, registry *Registry, store history.Store) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "router")),
		registry: registry,
		store:    store,
	}
}

// Route accepts a message from sender for the given room. It fails with
// ErrEmptyMessage when the body is blank and ErrNotAMember when the sender
// is not currently joined. On success the message carries the room's next
// sequence number and the server timestamp, a new_message event is enqueued
// to every member including the sender, and the sender receives a
// message_ack whose persisted flag reflects the history append. A history
// store failure never fails the route: delivery stays live and the ack is
// degraded instead.
func (rt *Router) Route(ctx context.Context, sender Peer, roomID, body string) (protocol.Message, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		return protocol.Message{}, ErrEmptyMessage
	}

	room, ok := rt.registry.Lookup(roomID)
	if !ok {
		return protocol.Message{}, ErrNotAMember
	}

	room.mu.Lock()
	if _, member := room.members[sender.ID()]; !member {
		room.mu.Unlock()
		return protocol.Message{}, ErrNotAMember
	}

	room.seq++
	msg := protocol.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    sender.User().ID,
		Username:  sender.User().Username,
		Content:   content,
		Seq:       room.seq,
		Timestamp: time.Now(),
	}

	// Fan out under the room lock so concurrent routes to the same room
	// cannot interleave their deliveries.
	ev := protocol.NewMessageEvent(msg)
	recipients := 0
	for _, member := range room.members {
		if member.Deliver(ev) {
			recipients++
		}
	}
	room.mu.Unlock()

	persisted := true
	if err := rt.store.Append(ctx, msg); err != nil {
		persisted = false
		rt.logger.Warn("history append failed, delivering without persistence",
			slog.String("room_id", roomID),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
	}
	sender.Deliver(protocol.NewMessageAck(msg.ID, msg.Seq, persisted))

	rt.logger.Info("message routed",
		slog.String("room_id", roomID),
		slog.Uint64("seq", msg.Seq),
		slog.Int("recipients", recipients))
	return msg, nil
}
