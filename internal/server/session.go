// Package server runs the per-connection supervisor: handshake, frame
// dispatch, and exactly-once teardown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/averill/relaychat/internal/auth"
	"github.com/averill/relaychat/internal/chat"
	"github.com/averill/relaychat/internal/protocol"
)

// session owns one connection end to end. The first frame must be an
// authenticate action; anything else closes the stream. After a successful
// handshake, frames are dispatched to the registry, router and typing
// tracker. Teardown runs exactly once, whether the stream errors, the client
// closes, or the server shuts down.
type session struct {
	server *Server
	client *Client
	logger *slog.Logger

	limiter       *rateLimiter
	authenticated bool
	teardownOnce  sync.Once
}

func newSession(srv *Server, client *Client) *session {
	return &session{
		server:  srv,
		client:  client,
		logger:  client.logger.With(slog.String("component", "session")),
		limiter: newRateLimiter(srv.cfg.Server.RateLimit.Burst, srv.cfg.Server.RateLimit.RefillInterval),
	}
}

func (s *session) run(ctx context.Context) {
	defer s.teardown()

	go s.client.writePump()
	s.client.configureRead()

	if !s.handshake(ctx) {
		return
	}
	s.dispatchLoop(ctx)
}

// handshake reads the first frame and authenticates the connection. No
// anonymous activity is permitted: a non-authenticate frame, a malformed
// frame, or a bad token all end the connection.
func (s *session) handshake(ctx context.Context) bool {
	raw, err := s.client.readFrame()
	if err != nil {
		s.client.logReadError(err)
		return false
	}

	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		s.logger.Warn("malformed frame during handshake")
		s.client.Deliver(protocol.NewAuthError("authentication required"))
		return false
	}
	if frame.Action != protocol.ActionAuthenticate {
		s.logger.Warn("frame before authentication", slog.String("action", frame.Action))
		s.client.Deliver(protocol.NewAuthError("authentication required"))
		return false
	}
	if frame.Token == "" {
		s.client.Deliver(protocol.NewAuthError("authentication token required"))
		return false
	}

	identity, err := s.server.authenticator.Verify(ctx, frame.Token)
	if err != nil {
		s.logger.Warn("authentication failed", slog.Any("error", err))
		s.client.Deliver(protocol.NewAuthError("invalid authentication token"))
		return false
	}

	s.client.setUser(protocol.User{ID: identity.UserID, Username: identity.Username})
	s.authenticated = true
	s.client.Deliver(protocol.NewAuthSuccess(s.client.User()))
	s.logger.Info("connection authenticated", slog.String("user_id", identity.UserID))
	return true
}

func (s *session) dispatchLoop(ctx context.Context) {
	for {
		raw, err := s.client.readFrame()
		if err != nil {
			s.client.logReadError(err)
			return
		}

		if !s.limiter.allow() {
			s.logger.Warn("rate limit exceeded, discarding frame")
			continue
		}

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			// Framing desync cannot be safely recovered from.
			s.logger.Warn("malformed frame, closing connection")
			return
		}
		s.dispatch(ctx, frame)
	}
}

// dispatch routes one decoded frame. Unknown actions and recoverable domain
// errors produce an error event for the sender; the connection stays open.
func (s *session) dispatch(ctx context.Context, frame *protocol.Frame) {
	switch frame.Action {
	case protocol.ActionAuthenticate:
		s.client.Deliver(protocol.NewError("already authenticated"))

	case protocol.ActionJoinRoom:
		s.handleJoin(ctx, frame.RoomID)

	case protocol.ActionLeaveRoom:
		s.handleLeave(frame.RoomID)

	case protocol.ActionSendMessage:
		s.handleSend(ctx, frame.RoomID, frame.Content)

	case protocol.ActionTypingStart:
		s.handleTypingStart(frame.RoomID)

	case protocol.ActionTypingStop:
		s.handleTypingStop(frame.RoomID)

	default:
		s.logger.Warn("unknown action", slog.String("action", frame.Action))
		s.client.Deliver(protocol.NewError("unknown action: " + frame.Action))
	}
}

func (s *session) handleJoin(ctx context.Context, roomID string) {
	if roomID == "" {
		s.client.Deliver(protocol.NewError("room_id required"))
		return
	}

	room := s.server.registry.GetOrCreate(roomID, roomID)
	members, err := s.server.registry.Join(roomID, s.client)
	if err != nil {
		s.deliverError(err)
		return
	}

	recent, err := s.server.store.Recent(ctx, roomID, s.server.cfg.History.Limit)
	if err != nil {
		// History priming is best effort; the join itself already happened.
		s.logger.Warn("history read failed, joining with empty history",
			slog.String("room_id", roomID), slog.Any("error", err))
		recent = nil
	}
	s.client.Deliver(protocol.NewRoomJoined(roomID, room.Name(), members, recent))
}

func (s *session) handleLeave(roomID string) {
	if roomID == "" {
		s.client.Deliver(protocol.NewError("room_id required"))
		return
	}
	s.server.typing.Stop(roomID, s.client)
	s.server.registry.Leave(roomID, s.client)
}

func (s *session) handleSend(ctx context.Context, roomID, content string) {
	if roomID == "" {
		s.client.Deliver(protocol.NewError("room_id required"))
		return
	}
	if _, err := s.server.router.Route(ctx, s.client, roomID, content); err != nil {
		s.deliverError(err)
	}
}

func (s *session) handleTypingStart(roomID string) {
	if roomID == "" {
		s.client.Deliver(protocol.NewError("room_id required"))
		return
	}
	if err := s.server.typing.Start(roomID, s.client); err != nil {
		s.deliverError(err)
	}
}

func (s *session) handleTypingStop(roomID string) {
	if roomID == "" {
		s.client.Deliver(protocol.NewError("room_id required"))
		return
	}
	s.server.typing.Stop(roomID, s.client)
}

// deliverError maps a recoverable domain error to a user-visible event.
func (s *session) deliverError(err error) {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		s.client.Deliver(protocol.NewError("room not found"))
	case errors.Is(err, chat.ErrNotAMember):
		s.client.Deliver(protocol.NewError("not a member of the room"))
	case errors.Is(err, chat.ErrEmptyMessage):
		s.client.Deliver(protocol.NewError("message content required"))
	case errors.Is(err, auth.ErrInvalidToken):
		s.client.Deliver(protocol.NewAuthError("invalid authentication token"))
	default:
		s.logger.Error("internal error", slog.Any("error", err))
		s.client.Deliver(protocol.NewError("internal server error"))
	}
}

// teardown removes the connection from every room, force-stops its typing
// state, and releases the outbound queue. Safe to call more than once.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		if s.authenticated {
			s.server.typing.StopAll(s.client)
			s.server.registry.RemoveEverywhere(s.client)
		}
		s.client.Close()
		s.server.removeSession(s)
		s.logger.Info("session closed")
	})
}
