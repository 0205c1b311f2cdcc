package server

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/relaychat/relay/internal/chat"
)

// newTestHub wires a hub to fresh stores with deterministic ids. Commands are
// dispatched directly instead of through Run so each test step is synchronous.
func newTestHub() *Hub {
	var roomN, msgN int
	directory := chat.NewDirectory(func() string {
		roomN++
		return fmt.Sprintf("room-%d", roomN)
	})
	history := chat.NewHistory(0, func() string {
		msgN++
		return fmt.Sprintf("msg-%d", msgN)
	}, directory.Exists)
	return NewHub(chat.NewRegistry(), directory, history)
}

// connect admits a fake client without pumps or a real socket.
func connect(h *Hub, id string) *Client {
	client := &Client{
		id:   id,
		addr: id + ":test",
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()
	return client
}

func send(t *testing.T, h *Hub, c *Client, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal %s payload: %v", event, err)
	}
	h.dispatch(command{client: c, envelope: Envelope{Event: event, Payload: raw}})
}

// nextEvent pops the next queued outbound frame and decodes its payload.
func nextEvent(t *testing.T, c *Client, want string, out any) {
	t.Helper()
	select {
	case frame := <-c.send:
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		if env.Event != want {
			t.Fatalf("Expected event %q, got %q", want, env.Event)
		}
		if out != nil {
			if err := json.Unmarshal(env.Payload, out); err != nil {
				t.Fatalf("Failed to decode %s payload: %v", want, err)
			}
		}
	default:
		t.Fatalf("Expected a queued %q event, but the send channel is empty", want)
	}
}

func expectNoPending(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("Expected no pending events, got %s", frame)
	default:
	}
}

func login(t *testing.T, h *Hub, c *Client, name string) LoginResult {
	t.Helper()
	send(t, h, c, EventLogin, LoginRequest{Name: name})
	var result LoginResult
	nextEvent(t, c, EventLoginResult, &result)
	return result
}

func createRoom(t *testing.T, h *Hub, c *Client, name string) CreateRoomResult {
	t.Helper()
	send(t, h, c, EventCreateRoom, CreateRoomRequest{RoomName: name})
	var result CreateRoomResult
	nextEvent(t, c, EventCreateRoomResult, &result)
	return result
}

func TestLoginReturnsIdentityAndEmptyDirectory(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")

	result := login(t, h, alice, "alice")

	if result.Error != nil {
		t.Fatalf("Unexpected login error: %+v", result.Error)
	}
	if result.Identity == nil || result.Identity.Name != "alice" {
		t.Fatalf("Expected identity name alice, got %+v", result.Identity)
	}
	if result.Identity.ID != "conn-alice" {
		t.Errorf("Expected identity id conn-alice, got %s", result.Identity.ID)
	}
	if result.Rooms == nil || len(result.Rooms) != 0 {
		t.Errorf("Expected empty room list, got %v", result.Rooms)
	}
}

func TestLoginRejectsBlankName(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")

	result := login(t, h, alice, "   ")

	if result.Error == nil || result.Error.Code != CodeInvalidInput {
		t.Fatalf("Expected invalid_input error, got %+v", result.Error)
	}
	if result.Identity != nil {
		t.Errorf("Expected no identity on failed login, got %+v", result.Identity)
	}
}

func TestActionsRequireLogin(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")

	created := createRoom(t, h, alice, "general")
	if created.Error == nil || created.Error.Code != CodeUnauthenticated {
		t.Fatalf("Expected unauthenticated createRoom error, got %+v", created.Error)
	}

	send(t, h, alice, EventJoinRoom, JoinRoomRequest{RoomID: "room-1"})
	var joined JoinRoomResult
	nextEvent(t, alice, EventJoinRoomResult, &joined)
	if joined.Error == nil || joined.Error.Code != CodeUnauthenticated {
		t.Fatalf("Expected unauthenticated joinRoom error, got %+v", joined.Error)
	}

	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: "room-1", Text: "hi"})
	var sent SendMessageResult
	nextEvent(t, alice, EventSendMessageResult, &sent)
	if sent.Error == nil || sent.Error.Code != CodeUnauthenticated {
		t.Fatalf("Expected unauthenticated sendMessage error, got %+v", sent.Error)
	}
}

func TestCreateRoomAnnouncesToAllConnections(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	bob := connect(h, "conn-bob")
	login(t, h, alice, "alice")

	result := createRoom(t, h, alice, "general")
	if result.Error != nil || !result.IsNew {
		t.Fatalf("Expected fresh room, got %+v", result)
	}

	// Both the logged-in creator and the unauthenticated bystander see the
	// announcement.
	var announced RoomCreatedEvent
	nextEvent(t, alice, EventRoomCreated, &announced)
	if announced.Room.Name != "general" {
		t.Errorf("Expected announced room general, got %q", announced.Room.Name)
	}
	nextEvent(t, bob, EventRoomCreated, &announced)
	if announced.Room.ID != result.Room.ID {
		t.Errorf("Announced room id %s does not match created id %s", announced.Room.ID, result.Room.ID)
	}
}

func TestCreateRoomCaseInsensitiveReuse(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	bob := connect(h, "conn-bob")
	login(t, h, alice, "alice")
	login(t, h, bob, "bob")

	first := createRoom(t, h, alice, "general")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)

	second := createRoom(t, h, bob, "General")
	if second.IsNew {
		t.Fatal("Expected isNew=false for the colliding name")
	}
	if second.Room == nil || second.Room.ID != first.Room.ID {
		t.Fatalf("Expected the existing room back, got %+v", second.Room)
	}
	if second.Error == nil || second.Error.Code != CodeConflict {
		t.Fatalf("Expected soft conflict alongside the room, got %+v", second.Error)
	}

	// No announcement for a reused room.
	expectNoPending(t, alice)
	expectNoPending(t, bob)
}

func drainEvent(t *testing.T, c *Client, event string) {
	t.Helper()
	nextEvent(t, c, event, nil)
}

func TestJoinUnknownRoomFails(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	login(t, h, alice, "alice")

	send(t, h, alice, EventJoinRoom, JoinRoomRequest{RoomID: "missing"})
	var result JoinRoomResult
	nextEvent(t, alice, EventJoinRoomResult, &result)
	if result.Error == nil || result.Error.Code != CodeNotFound {
		t.Fatalf("Expected not_found error, got %+v", result.Error)
	}
}

func TestMessageDeliveredToRoomMembersOnly(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	bob := connect(h, "conn-bob")
	carol := connect(h, "conn-carol")
	login(t, h, alice, "alice")
	login(t, h, bob, "bob")
	login(t, h, carol, "carol")

	general := createRoom(t, h, alice, "general")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)
	drainEvent(t, carol, EventRoomCreated)

	other := createRoom(t, h, carol, "other")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)
	drainEvent(t, carol, EventRoomCreated)

	send(t, h, bob, EventJoinRoom, JoinRoomRequest{RoomID: general.Room.ID})
	var joined JoinRoomResult
	nextEvent(t, bob, EventJoinRoomResult, &joined)
	if len(joined.Messages) != 0 {
		t.Fatalf("Expected empty backlog, got %d messages", len(joined.Messages))
	}

	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: general.Room.ID, Text: "hi bob"})
	var accepted SendMessageResult
	nextEvent(t, alice, EventSendMessageResult, &accepted)
	if accepted.Error != nil {
		t.Fatalf("Unexpected sendMessage error: %+v", accepted.Error)
	}

	// Sender and member both receive the broadcast; the member of the other
	// room receives nothing.
	var delivered NewMessageEvent
	nextEvent(t, alice, EventNewMessage, &delivered)
	nextEvent(t, bob, EventNewMessage, &delivered)
	if delivered.Message.Text != "hi bob" || delivered.Message.Sender.Name != "alice" {
		t.Fatalf("Unexpected delivered message: %+v", delivered.Message)
	}
	if delivered.Message.RoomID != general.Room.ID {
		t.Errorf("Message routed to room %s, expected %s", delivered.Message.RoomID, general.Room.ID)
	}
	expectNoPending(t, carol)

	// And traffic in carol's room stays out of general.
	send(t, h, carol, EventSendMessage, SendMessageRequest{RoomID: other.Room.ID, Text: "private"})
	drainEvent(t, carol, EventSendMessageResult)
	drainEvent(t, carol, EventNewMessage)
	expectNoPending(t, alice)
	expectNoPending(t, bob)
}

func TestJoinSwapsSingleMembership(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	bob := connect(h, "conn-bob")
	login(t, h, alice, "alice")
	login(t, h, bob, "bob")

	r1 := createRoom(t, h, alice, "one")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)
	r2 := createRoom(t, h, alice, "two")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)

	// Bob follows alice into room one, then moves to room two.
	send(t, h, bob, EventJoinRoom, JoinRoomRequest{RoomID: r1.Room.ID})
	drainEvent(t, bob, EventJoinRoomResult)
	send(t, h, bob, EventJoinRoom, JoinRoomRequest{RoomID: r2.Room.ID})
	drainEvent(t, bob, EventJoinRoomResult)

	// Alice is in room two (creation subscribes); a message there reaches bob.
	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: r2.Room.ID, Text: "in two"})
	drainEvent(t, alice, EventSendMessageResult)
	drainEvent(t, alice, EventNewMessage)
	var got NewMessageEvent
	nextEvent(t, bob, EventNewMessage, &got)
	if got.Message.Text != "in two" {
		t.Fatalf("Expected message for room two, got %+v", got.Message)
	}

	// A message to room one must not reach bob anymore.
	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: r1.Room.ID, Text: "in one"})
	drainEvent(t, alice, EventSendMessageResult)
	expectNoPending(t, bob)
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	bob := connect(h, "conn-bob")
	login(t, h, alice, "alice")
	login(t, h, bob, "bob")

	room := createRoom(t, h, alice, "general")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)

	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: room.Room.ID, Text: "hello"})
	drainEvent(t, alice, EventSendMessageResult)
	drainEvent(t, alice, EventNewMessage)

	var first, second JoinRoomResult
	send(t, h, bob, EventJoinRoom, JoinRoomRequest{RoomID: room.Room.ID})
	nextEvent(t, bob, EventJoinRoomResult, &first)
	send(t, h, bob, EventJoinRoom, JoinRoomRequest{RoomID: room.Room.ID})
	nextEvent(t, bob, EventJoinRoomResult, &second)

	if len(first.Messages) != 1 || len(second.Messages) != 1 {
		t.Fatalf("Expected identical single-message backlogs, got %d and %d", len(first.Messages), len(second.Messages))
	}
	if first.Messages[0].ID != second.Messages[0].ID {
		t.Error("Backlogs differ between idempotent joins")
	}

	// One subscription only: a new message arrives exactly once.
	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: room.Room.ID, Text: "again"})
	drainEvent(t, alice, EventSendMessageResult)
	drainEvent(t, alice, EventNewMessage)
	drainEvent(t, bob, EventNewMessage)
	expectNoPending(t, bob)
}

func TestWhitespaceMessageRejectedAndLogUnchanged(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	login(t, h, alice, "alice")

	room := createRoom(t, h, alice, "general")
	drainEvent(t, alice, EventRoomCreated)

	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: room.Room.ID, Text: "   \t  "})
	var result SendMessageResult
	nextEvent(t, alice, EventSendMessageResult, &result)
	if result.Error == nil || result.Error.Code != CodeInvalidInput {
		t.Fatalf("Expected invalid_input error, got %+v", result.Error)
	}
	if n := h.history.Len(room.Room.ID); n != 0 {
		t.Errorf("Expected unchanged log length 0, got %d", n)
	}
	expectNoPending(t, alice)
}

func TestBacklogRoundTripForLateJoiner(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	login(t, h, alice, "alice")

	room := createRoom(t, h, alice, "general")
	drainEvent(t, alice, EventRoomCreated)
	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: room.Room.ID, Text: "hello"})
	drainEvent(t, alice, EventSendMessageResult)
	drainEvent(t, alice, EventNewMessage)

	late := connect(h, "conn-late")
	login(t, h, late, "late")
	send(t, h, late, EventJoinRoom, JoinRoomRequest{RoomID: room.Room.ID})
	var joined JoinRoomResult
	nextEvent(t, late, EventJoinRoomResult, &joined)

	if len(joined.Messages) == 0 {
		t.Fatal("Expected a non-empty backlog")
	}
	last := joined.Messages[len(joined.Messages)-1]
	if last.Text != "hello" || last.Sender.Name != "alice" {
		t.Fatalf("Unexpected backlog tail: %+v", last)
	}
	// The backlog, not a broadcast, carries history: nothing else is queued.
	expectNoPending(t, late)
}

func TestDisconnectReleasesIdentityAndMembership(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")
	bob := connect(h, "conn-bob")
	login(t, h, alice, "alice")
	login(t, h, bob, "bob")

	room := createRoom(t, h, alice, "general")
	drainEvent(t, alice, EventRoomCreated)
	drainEvent(t, bob, EventRoomCreated)
	send(t, h, bob, EventJoinRoom, JoinRoomRequest{RoomID: room.Room.ID})
	drainEvent(t, bob, EventJoinRoomResult)

	h.handleUnregister(bob)

	if _, ok := h.registry.Lookup("conn-bob"); ok {
		t.Error("Expected identity released on disconnect")
	}
	if members := h.roomSnapshot(room.Room.ID); len(members) != 1 {
		t.Errorf("Expected only the creator left in the room, got %d members", len(members))
	}

	// Idempotent: a second unregister is harmless.
	h.handleUnregister(bob)

	send(t, h, alice, EventSendMessage, SendMessageRequest{RoomID: room.Room.ID, Text: "still here"})
	drainEvent(t, alice, EventSendMessageResult)
	drainEvent(t, alice, EventNewMessage)
}

func TestUnknownEventYieldsErrorEvent(t *testing.T) {
	h := newTestHub()
	alice := connect(h, "conn-alice")

	h.dispatch(command{client: alice, envelope: Envelope{Event: "teleport"}})

	var msg string
	nextEvent(t, alice, EventError, &msg)
	if msg == "" {
		t.Error("Expected a non-empty error description")
	}
}
