// Package server wires the routing core to its WebSocket transport and
// coordinates graceful shutdown across all live connections.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/averill/relaychat/internal/auth"
	"github.com/averill/relaychat/internal/chat"
	"github.com/averill/relaychat/internal/config"
	"github.com/averill/relaychat/internal/history"
)

// Server holds one explicitly constructed instance of every shared
// component. Nothing here is process-global; tests build independent servers
// side by side.
type Server struct {
	logger        *slog.Logger
	cfg           *config.Config
	registry      *chat.Registry
	router        *chat.Router
	typing        *chat.TypingTracker
	authenticator auth.Authenticator
	store         history.Store
	origins       *originChecker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// New constructs a server from its collaborators. Call Start before serving
// connections and Shutdown when done.
func New(logger *slog.Logger, cfg *config.Config, authenticator auth.Authenticator, store history.Store) *Server {
	registry := chat.NewRegistry(logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		logger:        logger.With(slog.String("component", "server")),
		cfg:           cfg,
		registry:      registry,
		router:        chat.NewRouter(logger, registry, store),
		typing:        chat.NewTypingTracker(logger, registry, cfg.Typing.Timeout),
		authenticator: authenticator,
		store:         store,
		origins:       newOriginChecker(cfg.Server.AllowedOrigins, logger),
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[*session]struct{}),
	}
}

// Registry exposes the room registry, primarily for tests that assert on
// membership state.
func (s *Server) Registry() *chat.Registry { return s.registry }

// Start launches the background workers, currently the typing expiry sweep.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.typing.Run(s.ctx, s.cfg.Typing.SweepInterval)
	}()
	s.logger.Info("server started", slog.String("addr", s.cfg.Server.Addr))
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
	s.logger.Info("connection registered", slog.Int("total", len(s.sessions)))
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess]; ok {
		delete(s.sessions, sess)
		s.logger.Info("connection unregistered", slog.Int("total", len(s.sessions)))
	}
}

// Shutdown closes every live connection and waits for their session
// goroutines and the background workers to finish, or for the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("shutting down, closing client connections")
	s.cancel()

	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.client.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete", slog.Int("closed", len(open)))
		return nil
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
