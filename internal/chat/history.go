package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// History holds the per-room append-only message sequences. The backlog is
// unbounded by default, which is an accepted constraint at the modeled scale;
// a positive limit caps each room to its most recent messages.
type History struct {
	mu         sync.Mutex
	logs       map[string][]Message
	limit      int
	newID      func() string
	roomExists func(roomID string) bool
	lastStamp  time.Time
}

// NewHistory creates an empty message history. newID supplies fresh message
// ids and roomExists answers whether a room id is known to the directory.
// limit caps the retained messages per room; zero means unlimited.
func NewHistory(limit int, newID func() string, roomExists func(string) bool) *History {
	return &History{
		logs:       make(map[string][]Message),
		limit:      limit,
		newID:      newID,
		roomExists: roomExists,
	}
}

// Init creates an empty log for a freshly created room. Initializing a room
// that already has a log is a no-op.
func (h *History) Init(roomID string) {
	h.mu.Lock()
	if _, ok := h.logs[roomID]; !ok {
		h.logs[roomID] = []Message{}
	}
	h.mu.Unlock()
}

// Append validates and appends a message to the room's sequence, returning
// the stored message. The sequence is never reordered and nothing is removed
// except by the optional retention limit. If the room exists in the directory
// but its log was never initialized, the log is created lazily rather than
// treated as an error.
func (h *History) Append(roomID string, sender Identity, rawText string) (Message, error) {
	if sender.ID == "" {
		return Message{}, fmt.Errorf("%w: sending requires login", ErrUnauthenticated)
	}
	text := strings.TrimSpace(rawText)
	if text == "" {
		return Message{}, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}
	if strings.TrimSpace(roomID) == "" {
		return Message{}, fmt.Errorf("%w: room id is required", ErrInvalidInput)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.logs[roomID]; !ok {
		if h.roomExists == nil || !h.roomExists(roomID) {
			return Message{}, fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
		}
		h.logs[roomID] = []Message{}
	}

	msg := Message{
		ID:        h.newID(),
		RoomID:    roomID,
		Sender:    sender,
		Text:      text,
		Timestamp: h.stamp(),
	}

	log := append(h.logs[roomID], msg)
	if h.limit > 0 && len(log) > h.limit {
		log = log[len(log)-h.limit:]
	}
	h.logs[roomID] = log

	return msg, nil
}

// Backlog returns a copy of the room's full ordered message sequence. An
// unknown or uninitialized room yields an empty, non-nil slice.
func (h *History) Backlog(roomID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.logs[roomID]
	backlog := make([]Message, len(log))
	copy(backlog, log)
	return backlog
}

// Len reports the number of stored messages for a room.
func (h *History) Len(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.logs[roomID])
}

// stamp returns a creation time that never regresses, even if the wall
// clock does. Callers must hold h.mu.
func (h *History) stamp() time.Time {
	now := time.Now()
	if now.Before(h.lastStamp) {
		now = h.lastStamp
	}
	h.lastStamp = now
	return now
}
