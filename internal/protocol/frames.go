// Package protocol defines the control frames and events exchanged over a
// chat connection. Frames travel client-to-server, events server-to-client;
// both are JSON objects discriminated by an "action" field.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Client-to-server actions.
const (
	ActionAuthenticate = "authenticate"
	ActionJoinRoom     = "join_room"
	ActionLeaveRoom    = "leave_room"
	ActionSendMessage  = "send_message"
	ActionTypingStart  = "typing_start"
	ActionTypingStop   = "typing_stop"
)

// Server-to-client actions. TypingStart/TypingStop are reused verbatim when
// relayed to peers.
const (
	ActionAuthSuccess = "auth_success"
	ActionAuthError   = "auth_error"
	ActionError       = "error"
	ActionRoomJoined  = "room_joined"
	ActionUserJoined  = "user_joined"
	ActionUserLeft    = "user_left"
	ActionNewMessage  = "new_message"
	ActionMessageAck  = "message_ack"
)

// ErrMalformedFrame indicates a frame that could not be decoded. Framing
// desync cannot be recovered, so callers treat it as fatal to the connection.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Frame is a decoded client-to-server control frame. Only the fields
// belonging to the frame's Action are populated.
type Frame struct {
	Action  string `json:"action"`
	Token   string `json:"token,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// DecodeFrame parses a raw inbound frame. A frame without a valid JSON body
// or without an action string yields ErrMalformedFrame; an unknown action is
// not an error here, the dispatcher decides how to treat it.
func DecodeFrame(raw []byte) (*Frame, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedFrame
	}

	action := gjson.GetBytes(raw, "action")
	if action.Type != gjson.String || action.Str == "" {
		return nil, ErrMalformedFrame
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, ErrMalformedFrame
	}
	return &frame, nil
}
