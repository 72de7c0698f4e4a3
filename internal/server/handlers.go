// Package server exposes the HTTP surface: the WebSocket upgrade endpoint
// and the health check.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// HandleWebSocket upgrades an HTTP request to a WebSocket connection and
// hands it to a new session supervisor. The session goroutine owns the
// connection from here on.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg.Server, s.logger)
	sess := newSession(s, client)
	s.addSession(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.run(s.ctx)
	}()
}

// HandleHealth reports server liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}
