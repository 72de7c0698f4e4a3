package chat

import "errors"

// Recoverable errors reported back to the originating client. The connection
// stays open after any of these.
var (
	ErrRoomNotFound = errors.New("chat: room not found")
	ErrNotAMember   = errors.New("chat: not a member of the room")
	ErrEmptyMessage = errors.New("chat: message content is empty")
)
