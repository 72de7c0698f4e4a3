// Package protocol defines server-to-client events and their payloads.
package protocol

import (
	"encoding/json"
	"time"
)

// User identifies a chat participant as it appears on the wire.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is a routed chat message. Seq is assigned per room and is strictly
// increasing; Timestamp is server wall-clock time at routing.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a server-to-client notification ready for delivery. Transient
// events (typing indicators) may be dropped under backpressure; all other
// events must either be delivered or cause the receiver to be closed.
type Event struct {
	action    string
	transient bool
	body      any
}

// Action returns the event's action discriminator.
func (e *Event) Action() string { return e.action }

// Transient reports whether the event may be discarded when the receiving
// connection's outbound queue is full.
func (e *Event) Transient() bool { return e.transient }

// Encode serializes the event to its wire form.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e.body)
}

type authSuccessBody struct {
	Action string `json:"action"`
	User   User   `json:"user"`
}

type errorBody struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

type roomJoinedBody struct {
	Action   string    `json:"action"`
	RoomID   string    `json:"room_id"`
	RoomName string    `json:"room_name"`
	Members  []User    `json:"members"`
	History  []Message `json:"history"`
}

type presenceBody struct {
	Action   string `json:"action"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type newMessageBody struct {
	Action  string  `json:"action"`
	Message Message `json:"message"`
}

type messageAckBody struct {
	Action    string `json:"action"`
	MessageID string `json:"message_id"`
	Seq       uint64 `json:"seq"`
	Persisted bool   `json:"persisted"`
}

// NewAuthSuccess confirms a completed handshake.
func NewAuthSuccess(user User) *Event {
	return &Event{action: ActionAuthSuccess, body: authSuccessBody{Action: ActionAuthSuccess, User: user}}
}

// NewAuthError reports a failed or missing handshake. The connection is
// closed after delivery.
func NewAuthError(message string) *Event {
	return &Event{action: ActionAuthError, body: errorBody{Action: ActionAuthError, Message: message}}
}

// NewError reports a recoverable error to the originating client.
func NewError(message string) *Event {
	return &Event{action: ActionError, body: errorBody{Action: ActionError, Message: message}}
}

// NewRoomJoined confirms a join to the joiner, carrying room metadata, the
// current member list, and recent history.
func NewRoomJoined(roomID, roomName string, members []User, history []Message) *Event {
	if members == nil {
		members = []User{}
	}
	if history == nil {
		history = []Message{}
	}
	return &Event{action: ActionRoomJoined, body: roomJoinedBody{
		Action:   ActionRoomJoined,
		RoomID:   roomID,
		RoomName: roomName,
		Members:  members,
		History:  history,
	}}
}

// NewUserJoined notifies existing members that a user entered the room.
func NewUserJoined(roomID string, user User) *Event {
	return &Event{action: ActionUserJoined, body: presenceBody{
		Action: ActionUserJoined, RoomID: roomID, UserID: user.ID, Username: user.Username,
	}}
}

// NewUserLeft notifies remaining members that a user left the room.
func NewUserLeft(roomID string, user User) *Event {
	return &Event{action: ActionUserLeft, body: presenceBody{
		Action: ActionUserLeft, RoomID: roomID, UserID: user.ID, Username: user.Username,
	}}
}

// NewMessageEvent fans a routed message out to room members.
func NewMessageEvent(msg Message) *Event {
	return &Event{action: ActionNewMessage, body: newMessageBody{Action: ActionNewMessage, Message: msg}}
}

// NewMessageAck acknowledges the sender's own message. Persisted is false
// when the history store rejected the append; delivery still happened.
func NewMessageAck(messageID string, seq uint64, persisted bool) *Event {
	return &Event{action: ActionMessageAck, body: messageAckBody{
		Action: ActionMessageAck, MessageID: messageID, Seq: seq, Persisted: persisted,
	}}
}

// NewTypingStart relays a typing indicator to other room members.
func NewTypingStart(roomID string, user User) *Event {
	return &Event{action: ActionTypingStart, transient: true, body: presenceBody{
		Action: ActionTypingStart, RoomID: roomID, UserID: user.ID, Username: user.Username,
	}}
}

// NewTypingStop relays the end of a typing indicator to other room members.
func NewTypingStop(roomID string, user User) *Event {
	return &Event{action: ActionTypingStop, transient: true, body: presenceBody{
		Action: ActionTypingStop, RoomID: roomID, UserID: user.ID, Username: user.Username,
	}}
}
