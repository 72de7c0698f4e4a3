package chat

import (
	"log/slog"
	"sync"

	"github.com/averill/relaychat/internal/protocol"
)

// Room is a named channel with a set of currently joined connections. Rooms
// are created on first reference and persist when empty so history stays
// addressable.
type Room struct {
	id   string
	name string

	mu      sync.Mutex
	members map[string]Peer // keyed by connection id
	seq     uint64
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Name returns the room display name.
func (r *Room) Name() string { return r.name }

// Registry is the sole mutator of room and membership state. Membership is
// indexed in both directions (room to connections and connection to rooms)
// and the two indexes never disagree outside a mutation's critical section.
//
// Presence notifications are emitted synchronously inside Join, Leave and
// RemoveEverywhere, under the affected room's lock, so presence can never
// drift from actual membership. Operations on different rooms proceed
// independently; each room serializes its own mutations and fan-outs.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]*Room
	joined map[string]map[string]*Room // connection id -> room id -> room
}

// NewRegistry creates an empty registry. Each test or server instance builds
// its own; there is no process-wide instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With(slog.String("component", "registry")),
		rooms:  make(map[string]*Room),
		joined: make(map[string]map[string]*Room),
	}
}

// GetOrCreate returns the room with the given id, creating it with the given
// display name on first reference. Idempotent by room id; the name of an
// existing room is not rewritten.
func (r *Registry) GetOrCreate(roomID, name string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room := &Room{
		id:      roomID,
		name:    name,
		members: make(map[string]Peer),
	}
	r.rooms[roomID] = room
	r.logger.Info("room created", slog.String("room_id", roomID), slog.String("room_name", name))
	return room
}

// Lookup returns the room with the given id, if it exists.
func (r *Registry) Lookup(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// Join adds the peer to the room and notifies existing members with a
// user_joined event. It returns the identities of the other members at join
// time, for the joiner's initial snapshot. Joining a room the peer already
// belongs to is idempotent and emits no presence event. ErrRoomNotFound is
// returned when the room id is unknown.
func (r *Registry) Join(roomID string, peer Peer) ([]protocol.User, error) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	byConn := r.joined[peer.ID()]
	_, already := byConn[roomID]
	if !already {
		if byConn == nil {
			byConn = make(map[string]*Room)
			r.joined[peer.ID()] = byConn
		}
		byConn[roomID] = room
	}
	r.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	others := make([]protocol.User, 0, len(room.members))
	for connID, member := range room.members {
		if connID != peer.ID() {
			others = append(others, member.User())
		}
	}
	if already {
		return others, nil
	}

	ev := protocol.NewUserJoined(roomID, peer.User())
	for connID, member := range room.members {
		if connID != peer.ID() {
			member.Deliver(ev)
		}
	}
	room.members[peer.ID()] = peer

	r.logger.Info("member joined",
		slog.String("room_id", roomID),
		slog.String("user_id", peer.User().ID),
		slog.Int("members", len(room.members)))
	return others, nil
}

// Leave removes the peer from the room and notifies the remaining members
// with a user_left event. A leave for a room the peer is not in is a no-op.
func (r *Registry) Leave(roomID string, peer Peer) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if byConn := r.joined[peer.ID()]; byConn != nil {
		delete(byConn, roomID)
		if len(byConn) == 0 {
			delete(r.joined, peer.ID())
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.removeMember(room, peer)
}

// RemoveEverywhere removes the peer from every room it belongs to, emitting
// one user_left event per room. Used during connection teardown.
func (r *Registry) RemoveEverywhere(peer Peer) {
	r.mu.Lock()
	byConn := r.joined[peer.ID()]
	delete(r.joined, peer.ID())
	rooms := make([]*Room, 0, len(byConn))
	for _, room := range byConn {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		r.removeMember(room, peer)
	}
}

func (r *Registry) removeMember(room *Room, peer Peer) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.members[peer.ID()]; !ok {
		return
	}
	delete(room.members, peer.ID())

	ev := protocol.NewUserLeft(room.id, peer.User())
	for _, member := range room.members {
		member.Deliver(ev)
	}
	r.logger.Info("member left",
		slog.String("room_id", room.id),
		slog.String("user_id", peer.User().ID),
		slog.Int("members", len(room.members)))
}

// MembersOf returns a consistent snapshot of the room's current members. An
// unknown room yields an empty snapshot.
func (r *Registry) MembersOf(roomID string) []Peer {
	room, ok := r.Lookup(roomID)
	if !ok {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	members := make([]Peer, 0, len(room.members))
	for _, member := range room.members {
		members = append(members, member)
	}
	return members
}

// IsMember reports whether the connection currently belongs to the room.
func (r *Registry) IsMember(roomID, connID string) bool {
	room, ok := r.Lookup(roomID)
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	_, member := room.members[connID]
	return member
}

// broadcast delivers an event to every member of the room except the
// excluded connection.
func (r *Registry) broadcast(roomID string, ev *protocol.Event, excludeConnID string) {
	room, ok := r.Lookup(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	for connID, member := range room.members {
		if connID != excludeConnID {
			member.Deliver(ev)
		}
	}
}
