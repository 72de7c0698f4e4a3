package history

import (
	"context"
	"sync"

	"github.com/averill/relaychat/internal/protocol"
)

// MemoryStore keeps per-room message logs in process memory, trimmed to a
// retention cap. It is the default backend and the test double.
type MemoryStore struct {
	retention int

	mu    sync.RWMutex
	rooms map[string][]protocol.Message
}

// NewMemoryStore creates a store retaining at most retention messages per
// room. A non-positive retention falls back to 1000.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = 1000
	}
	return &MemoryStore{
		retention: retention,
		rooms:     make(map[string][]protocol.Message),
	}
}

// Append records the message, dropping the oldest entry once the room's log
// exceeds the retention cap.
func (s *MemoryStore) Append(_ context.Context, msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.rooms[msg.RoomID], msg)
	if len(log) > s.retention {
		log = log[len(log)-s.retention:]
	}
	s.rooms[msg.RoomID] = log
	return nil
}

// Recent returns up to limit of the room's newest messages, oldest first.
func (s *MemoryStore) Recent(_ context.Context, roomID string, limit int) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[roomID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]protocol.Message, len(log))
	copy(out, log)
	return out, nil
}
