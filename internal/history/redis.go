package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/averill/relaychat/internal/protocol"
)

// RedisStore persists per-room message logs as Redis lists of JSON payloads,
// trimmed server-side to a retention cap.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention int
}

// NewRedisStore wraps an existing client. Keys take the form
// "<prefix><room id>"; a non-positive retention falls back to 1000.
func NewRedisStore(client *redis.Client, prefix string, retention int) *RedisStore {
	if prefix == "" {
		prefix = "relaychat:history:"
	}
	if retention <= 0 {
		retention = 1000
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(roomID string) string {
	return s.prefix + roomID
}

// Append pushes the message onto the room's list and trims it to the
// retention cap in one pipeline round trip.
func (s *RedisStore) Append(ctx context.Context, msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("history marshal error: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(msg.RoomID), payload)
	pipe.LTrim(ctx, s.key(msg.RoomID), int64(-s.retention), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history append error: %w", err)
	}
	return nil
}

// Recent reads up to limit of the room's newest messages, oldest first.
func (s *RedisStore) Recent(ctx context.Context, roomID string, limit int) ([]protocol.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := s.client.LRange(ctx, s.key(roomID), start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []protocol.Message{}, nil
		}
		return nil, fmt.Errorf("history read error: %w", err)
	}

	out := make([]protocol.Message, 0, len(raw))
	for _, entry := range raw {
		var msg protocol.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("history unmarshal error: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
