// Package server defines the JSON event envelope and payload types exchanged
// with clients, shared across client and hub logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/relaychat/relay/internal/chat"
)

// Client-to-server event names.
const (
	EventLogin       = "login"
	EventCreateRoom  = "createRoom"
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
)

// Server-to-client event names. The *Result events are direct replies to the
// matching request; the rest are server-initiated pushes.
const (
	EventLoginResult       = "loginResult"
	EventCreateRoomResult  = "createRoomResult"
	EventJoinRoomResult    = "joinRoomResult"
	EventSendMessageResult = "sendMessageResult"
	EventInitialRooms      = "initialRooms"
	EventRoomCreated       = "roomCreated"
	EventNewMessage        = "newMessage"
	EventError             = "error"
)

// Wire error codes carried in ErrorInfo.Code.
const (
	CodeInvalidInput    = "invalid_input"
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
)

// Envelope is the framing used in both directions: a named event plus its
// JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorInfo is the machine-readable error attached to a failed (or, for name
// conflicts, soft-failed) action reply.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LoginRequest asks to bind a display name to this connection.
type LoginRequest struct {
	Name string `json:"name"`
}

// CreateRoomRequest asks to create a room, or to reuse the existing room
// whose name matches case-insensitively.
type CreateRoomRequest struct {
	RoomName string `json:"roomName"`
}

// JoinRoomRequest asks to subscribe this connection to a room.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

// SendMessageRequest asks to append a message to a room.
type SendMessageRequest struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// LoginResult carries the new identity and a directory snapshot, or an error.
type LoginResult struct {
	Identity *chat.Identity `json:"identity,omitempty"`
	Rooms    []chat.Room    `json:"rooms"`
	Error    *ErrorInfo     `json:"error,omitempty"`
}

// CreateRoomResult carries the created or reused room. The existing-name case
// carries both the room and a soft conflict error, with IsNew false.
type CreateRoomResult struct {
	Room  *chat.Room `json:"room,omitempty"`
	IsNew bool       `json:"isNew"`
	Error *ErrorInfo `json:"error,omitempty"`
}

// JoinRoomResult carries the room's full message backlog, or an error.
type JoinRoomResult struct {
	Messages []chat.Message `json:"messages"`
	Error    *ErrorInfo     `json:"error,omitempty"`
}

// SendMessageResult confirms acceptance of a message, or reports an error.
// Delivery to room members, the sender included, happens separately via the
// newMessage broadcast.
type SendMessageResult struct {
	Message *chat.Message `json:"message,omitempty"`
	Error   *ErrorInfo    `json:"error,omitempty"`
}

// RoomListEvent is the payload of initialRooms, pushed once on connect.
type RoomListEvent struct {
	Rooms []chat.Room `json:"rooms"`
}

// RoomCreatedEvent is the payload of roomCreated, broadcast to every
// connection when a new room appears.
type RoomCreatedEvent struct {
	Room chat.Room `json:"room"`
}

// NewMessageEvent is the payload of newMessage, broadcast to the members of
// the message's room only.
type NewMessageEvent struct {
	Message chat.Message `json:"message"`
}

// encodeEvent marshals a payload into a framed envelope ready for the wire.
func encodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
