package chat_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/averill/relaychat/internal/chat"
	"github.com/averill/relaychat/internal/protocol"
)

// fakePeer is a test double for a connected client. It records every
// delivered event for later inspection.
type fakePeer struct {
	id   string
	user protocol.User

	mu     sync.Mutex
	events []*protocol.Event
}

func newFakePeer(connID, userID, username string) *fakePeer {
	return &fakePeer{
		id:   connID,
		user: protocol.User{ID: userID, Username: username},
	}
}

func (p *fakePeer) ID() string          { return p.id }
func (p *fakePeer) User() protocol.User { return p.user }

func (p *fakePeer) Deliver(ev *protocol.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

// countEvents returns how many delivered events carry the given action.
func (p *fakePeer) countEvents(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, ev := range p.events {
		if ev.Action() == action {
			count++
		}
	}
	return count
}

// lastEvent returns the most recent event with the given action, decoded to
// a generic map, or nil if none was delivered.
func (p *fakePeer) lastEvent(t *testing.T, action string) map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Action() != action {
			continue
		}
		data, err := p.events[i].Encode()
		if err != nil {
			t.Fatalf("encoding event: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		return decoded
	}
	return nil
}

// waitForEvent polls until the peer has received at least n events with the
// given action or the timeout passes.
func (p *fakePeer) waitForEvent(t *testing.T, action string, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.countEvents(action) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, got %d", n, action, p.countEvents(action))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
