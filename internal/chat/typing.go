package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/averill/relaychat/internal/protocol"
)

type typingKey struct {
	roomID string
	userID string
}

type typingEntry struct {
	expires time.Time
	user    protocol.User
	connID  string
}

// TypingTracker holds short-lived per-room, per-user typing state. Every
// entry expires on its own after the configured timeout, so a client that
// disconnects mid-keystroke never leaves peers believing it is typing.
type TypingTracker struct {
	logger   *slog.Logger
	registry *Registry
	timeout  time.Duration

	mu     sync.Mutex
	active map[typingKey]typingEntry
}

// NewTypingTracker creates a tracker whose entries expire after timeout.
func NewTypingTracker(logger *slog.Logger, registry *Registry, timeout time.Duration) *TypingTracker {
	return &TypingTracker{
		logger:   logger.With(slog.String("component", "typing")),
		registry: registry,
		timeout:  timeout,
		active:   make(map[typingKey]typingEntry),
	}
}

// Start records or refreshes typing state for the peer's user in the room.
// A typing_start event goes to the other members only when no unexpired
// state already existed, so keystroke bursts do not re-broadcast. Fails with
// ErrNotAMember when the peer is not joined to the room.
func (t *TypingTracker) Start(roomID string, peer Peer) error {
	if !t.registry.IsMember(roomID, peer.ID()) {
		return ErrNotAMember
	}

	key := typingKey{roomID: roomID, userID: peer.User().ID}
	now := time.Now()

	t.mu.Lock()
	entry, exists := t.active[key]
	fresh := !exists || now.After(entry.expires)
	t.active[key] = typingEntry{
		expires: now.Add(t.timeout),
		user:    peer.User(),
		connID:  peer.ID(),
	}
	t.mu.Unlock()

	if fresh {
		t.registry.broadcast(roomID, protocol.NewTypingStart(roomID, peer.User()), peer.ID())
	}
	return nil
}

// Stop clears typing state for the peer's user in the room and notifies the
// other members. A stop without matching state is a no-op.
func (t *TypingTracker) Stop(roomID string, peer Peer) {
	key := typingKey{roomID: roomID, userID: peer.User().ID}

	t.mu.Lock()
	_, exists := t.active[key]
	delete(t.active, key)
	t.mu.Unlock()

	if exists {
		t.registry.broadcast(roomID, protocol.NewTypingStop(roomID, peer.User()), peer.ID())
	}
}

// StopAll force-stops every typing state belonging to the peer's user, one
// typing_stop broadcast per affected room. Used during connection teardown.
func (t *TypingTracker) StopAll(peer Peer) {
	userID := peer.User().ID

	t.mu.Lock()
	var stopped []typingEntry
	var rooms []string
	for key, entry := range t.active {
		if key.userID == userID {
			stopped = append(stopped, entry)
			rooms = append(rooms, key.roomID)
			delete(t.active, key)
		}
	}
	t.mu.Unlock()

	for i, entry := range stopped {
		t.registry.broadcast(rooms[i], protocol.NewTypingStop(rooms[i], entry.user), entry.connID)
	}
}

// Run sweeps expired entries at the given interval until ctx is cancelled,
// broadcasting typing_stop for each one it removes.
func (t *TypingTracker) Run(ctx context.Context, sweepInterval time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

func (t *TypingTracker) sweep(now time.Time) {
	t.mu.Lock()
	var expired []typingEntry
	var rooms []string
	for key, entry := range t.active {
		if now.After(entry.expires) {
			expired = append(expired, entry)
			rooms = append(rooms, key.roomID)
			delete(t.active, key)
		}
	}
	t.mu.Unlock()

	for i, entry := range expired {
		t.logger.Debug("typing state expired",
			slog.String("room_id", rooms[i]),
			slog.String("user_id", entry.user.ID))
		t.registry.broadcast(rooms[i], protocol.NewTypingStop(rooms[i], entry.user), entry.connID)
	}
}
