package server_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/averill/relaychat/internal/auth"
	"github.com/averill/relaychat/internal/config"
	"github.com/averill/relaychat/internal/history"
	"github.com/averill/relaychat/internal/server"
)

const testOrigin = "http://localhost:8080"

// newTestServer starts a complete server over httptest with a static token
// table for alice ("tok-alice") and bob ("tok-bob") and short typing windows
// so expiry is observable.
func newTestServer(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{testOrigin}
	cfg.Typing.Timeout = 100 * time.Millisecond
	cfg.Typing.SweepInterval = 20 * time.Millisecond

	authenticator := auth.NewStaticAuthenticator()
	authenticator.Add("tok-alice", auth.Identity{UserID: "u1", Username: "alice"})
	authenticator.Add("tok-bob", auth.Identity{UserID: "u2", Username: "bob"})

	srv := server.New(logger, cfg, authenticator, history.NewMemoryStore(100))
	srv.Start()

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(2 * time.Second)
	})
	return ts, srv
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// readEvent reads the next server event with a deadline guard.
func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return event
}

// readUntil reads events until one with the wanted action arrives, skipping
// unrelated events, with a bounded number of attempts.
func readUntil(t *testing.T, conn *websocket.Conn, action string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		event := readEvent(t, conn)
		if event["action"] == action {
			return event
		}
	}
	t.Fatalf("Did not receive %q event", action)
	return nil
}

// expectClosed verifies that the server closed the connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed")
	}
}

// expectSilence verifies that no event arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Errorf("Expected no event, got %s", raw)
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	sendFrame(t, conn, map[string]any{"action": "authenticate", "token": token})
	event := readEvent(t, conn)
	if event["action"] != "auth_success" {
		t.Fatalf("Expected auth_success, got %v", event)
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID string) map[string]any {
	t.Helper()
	sendFrame(t, conn, map[string]any{"action": "join_room", "room_id": roomID})
	return readUntil(t, conn, "room_joined")
}

// TestHealthEndpoint verifies the liveness check responds with plain text.
func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "running") {
		t.Errorf("Unexpected health body: %s", body)
	}
}

// TestHandshakeSuccess verifies that a valid token yields auth_success with
// the resolved identity.
func TestHandshakeSuccess(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	sendFrame(t, conn, map[string]any{"action": "authenticate", "token": "tok-alice"})
	event := readEvent(t, conn)

	if event["action"] != "auth_success" {
		t.Fatalf("Expected auth_success, got %v", event)
	}
	user, ok := event["user"].(map[string]any)
	if !ok || user["id"] != "u1" || user["username"] != "alice" {
		t.Errorf("Unexpected user payload: %v", event["user"])
	}
}

// TestHandshakeInvalidToken verifies that a bad token produces auth_error
// and closes the stream.
func TestHandshakeInvalidToken(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	sendFrame(t, conn, map[string]any{"action": "authenticate", "token": "bogus"})
	event := readEvent(t, conn)
	if event["action"] != "auth_error" {
		t.Fatalf("Expected auth_error, got %v", event)
	}
	expectClosed(t, conn)
}

// TestFrameBeforeAuthenticationCloses verifies that no anonymous activity is
// permitted: a join_room before authenticate gets auth_error, the stream is
// closed, and no membership is created.
func TestFrameBeforeAuthenticationCloses(t *testing.T) {
	ts, srv := newTestServer(t)
	conn := dial(t, ts)

	sendFrame(t, conn, map[string]any{"action": "join_room", "room_id": "general"})
	event := readEvent(t, conn)
	if event["action"] != "auth_error" {
		t.Fatalf("Expected auth_error, got %v", event)
	}
	expectClosed(t, conn)

	if got := len(srv.Registry().MembersOf("general")); got != 0 {
		t.Errorf("Unauthenticated join created %d membership entries", got)
	}
}

// TestJoinMessageDisconnectScenario walks the full two-client flow: alice
// joins, bob joins and alice sees user_joined, alice sends a message both
// receive with seq 1, alice disconnects and bob sees user_left.
func TestJoinMessageDisconnectScenario(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dial(t, ts)
	authenticate(t, alice, "tok-alice")
	joined := joinRoom(t, alice, "general")
	if joined["room_id"] != "general" {
		t.Fatalf("Unexpected room_joined payload: %v", joined)
	}
	if members, ok := joined["members"].([]any); !ok || len(members) != 0 {
		t.Errorf("Expected empty member snapshot, got %v", joined["members"])
	}

	bob := dial(t, ts)
	authenticate(t, bob, "tok-bob")
	bobJoined := joinRoom(t, bob, "general")
	members, ok := bobJoined["members"].([]any)
	if !ok || len(members) != 1 {
		t.Fatalf("Expected one existing member in bob's snapshot, got %v", bobJoined["members"])
	}

	userJoined := readUntil(t, alice, "user_joined")
	if userJoined["user_id"] != "u2" || userJoined["username"] != "bob" {
		t.Errorf("Unexpected user_joined payload: %v", userJoined)
	}

	sendFrame(t, alice, map[string]any{"action": "send_message", "room_id": "general", "content": "hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		event := readUntil(t, conn, "new_message")
		msg, ok := event["message"].(map[string]any)
		if !ok {
			t.Fatalf("new_message without message payload: %v", event)
		}
		if msg["content"] != "hello" || msg["seq"] != float64(1) || msg["username"] != "alice" {
			t.Errorf("Unexpected message payload: %v", msg)
		}
	}

	ack := readUntil(t, alice, "message_ack")
	if ack["persisted"] != true {
		t.Errorf("Expected persisted acknowledgment, got %v", ack)
	}

	if err := alice.Close(); err != nil {
		t.Fatalf("Failed to close alice: %v", err)
	}
	left := readUntil(t, bob, "user_left")
	if left["user_id"] != "u1" {
		t.Errorf("Unexpected user_left payload: %v", left)
	}
}

// TestSendWithoutMembership verifies that a message to a never-joined room
// is reported only to the sender and broadcast to nobody.
func TestSendWithoutMembership(t *testing.T) {
	ts, _ := newTestServer(t)

	bob := dial(t, ts)
	authenticate(t, bob, "tok-bob")
	joinRoom(t, bob, "general")

	alice := dial(t, ts)
	authenticate(t, alice, "tok-alice")
	sendFrame(t, alice, map[string]any{"action": "send_message", "room_id": "general", "content": "hi"})

	event := readEvent(t, alice)
	if event["action"] != "error" {
		t.Fatalf("Expected error event, got %v", event)
	}
	expectSilence(t, bob, 300*time.Millisecond)
}

// TestTypingRelayAndExpiry verifies that typing indicators reach the other
// members only, and that an abandoned indicator expires into typing_stop on
// its own.
func TestTypingRelayAndExpiry(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dial(t, ts)
	authenticate(t, alice, "tok-alice")
	joinRoom(t, alice, "general")

	bob := dial(t, ts)
	authenticate(t, bob, "tok-bob")
	joinRoom(t, bob, "general")
	readUntil(t, alice, "user_joined")

	sendFrame(t, alice, map[string]any{"action": "typing_start", "room_id": "general"})
	started := readUntil(t, bob, "typing_start")
	if started["username"] != "alice" {
		t.Errorf("Unexpected typing_start payload: %v", started)
	}

	// No explicit stop: the sweep must emit typing_stop within the window.
	stopped := readUntil(t, bob, "typing_stop")
	if stopped["username"] != "alice" {
		t.Errorf("Unexpected typing_stop payload: %v", stopped)
	}
	expectSilence(t, alice, 200*time.Millisecond)
}

// TestHistoryPrimesLateJoiner verifies that a join returns the room's recent
// messages in order.
func TestHistoryPrimesLateJoiner(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dial(t, ts)
	authenticate(t, alice, "tok-alice")
	joinRoom(t, alice, "general")

	for _, content := range []string{"first", "second"} {
		sendFrame(t, alice, map[string]any{"action": "send_message", "room_id": "general", "content": content})
		readUntil(t, alice, "message_ack")
	}

	bob := dial(t, ts)
	authenticate(t, bob, "tok-bob")
	joined := joinRoom(t, bob, "general")

	historyEntries, ok := joined["history"].([]any)
	if !ok || len(historyEntries) != 2 {
		t.Fatalf("Expected 2 history entries, got %v", joined["history"])
	}
	first, _ := historyEntries[0].(map[string]any)
	second, _ := historyEntries[1].(map[string]any)
	if first["content"] != "first" || second["content"] != "second" {
		t.Errorf("History out of order: %v", historyEntries)
	}
}

// TestUnknownActionIsNonFatal verifies that an unknown action yields an
// error event and the connection keeps working.
func TestUnknownActionIsNonFatal(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dial(t, ts)
	authenticate(t, conn, "tok-alice")

	sendFrame(t, conn, map[string]any{"action": "dance"})
	event := readEvent(t, conn)
	if event["action"] != "error" {
		t.Fatalf("Expected error event, got %v", event)
	}

	joined := joinRoom(t, conn, "general")
	if joined["room_id"] != "general" {
		t.Errorf("Connection unusable after unknown action: %v", joined)
	}
}

// TestMalformedFrameCloses verifies that undecodable input after the
// handshake is fatal to the connection.
func TestMalformedFrameCloses(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dial(t, ts)
	authenticate(t, conn, "tok-alice")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write raw frame: %v", err)
	}
	expectClosed(t, conn)
}

// TestLeaveRoomNotifiesOthers verifies the explicit leave path emits
// user_left to the remaining members.
func TestLeaveRoomNotifiesOthers(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dial(t, ts)
	authenticate(t, alice, "tok-alice")
	joinRoom(t, alice, "general")

	bob := dial(t, ts)
	authenticate(t, bob, "tok-bob")
	joinRoom(t, bob, "general")
	readUntil(t, alice, "user_joined")

	sendFrame(t, bob, map[string]any{"action": "leave_room", "room_id": "general"})
	left := readUntil(t, alice, "user_left")
	if left["user_id"] != "u2" {
		t.Errorf("Unexpected user_left payload: %v", left)
	}
}
