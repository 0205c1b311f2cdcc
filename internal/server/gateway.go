// Package server translates client events into chat store operations and
// state transitions back into outbound events. This file is the session
// gateway: the only place client intents touch the registry, directory, and
// history.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/relaychat/relay/internal/chat"
)

// dispatch executes one client command. It runs on the hub's event loop, so
// commands from all connections are applied to the stores in a single total
// order: two racing createRoom calls have exactly one winner, and newMessage
// broadcasts leave in append order.
func (h *Hub) dispatch(cmd command) {
	client := cmd.client

	switch cmd.envelope.Event {
	case EventLogin:
		h.handleLogin(client, cmd.envelope.Payload)
	case EventCreateRoom:
		h.handleCreateRoom(client, cmd.envelope.Payload)
	case EventJoinRoom:
		h.handleJoinRoom(client, cmd.envelope.Payload)
	case EventSendMessage:
		h.handleSendMessage(client, cmd.envelope.Payload)
	default:
		log.Printf("Unknown event %q from %s", cmd.envelope.Event, client.addr)
		h.sendEvent(client, EventError, fmt.Sprintf("unknown event %q", cmd.envelope.Event))
	}
}

// handleLogin binds a display name to the connection and replies with its new
// identity plus the current room directory snapshot.
func (h *Hub) handleLogin(client *Client, payload json.RawMessage) {
	var req LoginRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendEvent(client, EventLoginResult, LoginResult{Error: invalidPayload(err)})
		return
	}

	identity, err := h.registry.Authenticate(client.id, req.Name)
	if err != nil {
		h.sendEvent(client, EventLoginResult, LoginResult{Error: errorInfo(err)})
		return
	}

	h.sendEvent(client, EventLoginResult, LoginResult{
		Identity: &identity,
		Rooms:    h.directory.List(),
	})
}

// handleCreateRoom creates the named room or reuses the case-insensitive
// match. Either way the creator is subscribed to the room, so its own
// subsequent messages come back to it via broadcast like any member's. A new
// room is announced to every connection; a reused one is reported back with
// a soft conflict alongside the existing room.
func (h *Hub) handleCreateRoom(client *Client, payload json.RawMessage) {
	var req CreateRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendEvent(client, EventCreateRoomResult, CreateRoomResult{Error: invalidPayload(err)})
		return
	}

	identity, ok := h.registry.Lookup(client.id)
	if !ok {
		h.sendEvent(client, EventCreateRoomResult, CreateRoomResult{Error: notLoggedIn()})
		return
	}

	room, isNew, err := h.directory.CreateOrGet(identity, req.RoomName)
	if err != nil {
		h.sendEvent(client, EventCreateRoomResult, CreateRoomResult{Error: errorInfo(err)})
		return
	}

	if isNew {
		h.history.Init(room.ID)
	}
	h.subscribe(client, room.ID)

	result := CreateRoomResult{Room: &room, IsNew: isNew}
	if !isNew {
		result.Error = &ErrorInfo{
			Code:    CodeConflict,
			Message: fmt.Sprintf("room %q already exists", room.Name),
		}
	}
	h.sendEvent(client, EventCreateRoomResult, result)

	if isNew {
		h.broadcastAll(EventRoomCreated, RoomCreatedEvent{Room: room})
	}
}

// handleJoinRoom swaps the connection's membership to the target room and
// replies with the room's full backlog. Joining the current room again is
// idempotent and simply returns the backlog once more.
func (h *Hub) handleJoinRoom(client *Client, payload json.RawMessage) {
	var req JoinRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendEvent(client, EventJoinRoomResult, JoinRoomResult{Error: invalidPayload(err)})
		return
	}

	if _, ok := h.registry.Lookup(client.id); !ok {
		h.sendEvent(client, EventJoinRoomResult, JoinRoomResult{Error: notLoggedIn()})
		return
	}

	room, ok := h.directory.Get(req.RoomID)
	if !ok {
		h.sendEvent(client, EventJoinRoomResult, JoinRoomResult{Error: &ErrorInfo{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("room %q not found", req.RoomID),
		}})
		return
	}

	h.subscribe(client, room.ID)
	h.sendEvent(client, EventJoinRoomResult, JoinRoomResult{Messages: h.history.Backlog(room.ID)})
}

// handleSendMessage appends the message and confirms acceptance to the
// sender, then broadcasts it to the room's current members. Because append
// and broadcast happen in one dispatch, no member can observe message N+1
// before message N.
func (h *Hub) handleSendMessage(client *Client, payload json.RawMessage) {
	var req SendMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendEvent(client, EventSendMessageResult, SendMessageResult{Error: invalidPayload(err)})
		return
	}

	identity, ok := h.registry.Lookup(client.id)
	if !ok {
		h.sendEvent(client, EventSendMessageResult, SendMessageResult{Error: notLoggedIn()})
		return
	}

	msg, err := h.history.Append(req.RoomID, identity, req.Text)
	if err != nil {
		h.sendEvent(client, EventSendMessageResult, SendMessageResult{Error: errorInfo(err)})
		return
	}

	h.sendEvent(client, EventSendMessageResult, SendMessageResult{Message: &msg})
	h.broadcastToRoom(msg.RoomID, EventNewMessage, NewMessageEvent{Message: msg})
}

// errorInfo maps a chat store error onto its wire code.
func errorInfo(err error) *ErrorInfo {
	info := &ErrorInfo{Message: err.Error()}
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		info.Code = CodeInvalidInput
	case errors.Is(err, chat.ErrUnauthenticated):
		info.Code = CodeUnauthenticated
	case errors.Is(err, chat.ErrRoomNotFound):
		info.Code = CodeNotFound
	default:
		info.Code = CodeInternal
	}
	return info
}

func invalidPayload(err error) *ErrorInfo {
	return &ErrorInfo{Code: CodeInvalidInput, Message: fmt.Sprintf("malformed payload: %v", err)}
}

func notLoggedIn() *ErrorInfo {
	return &ErrorInfo{Code: CodeUnauthenticated, Message: "login required"}
}
