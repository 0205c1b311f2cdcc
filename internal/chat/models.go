package chat

import "time"

// Identity is the display-name binding for one live authenticated connection.
// The ID is the transport-assigned connection handle and is never reused
// across reconnects.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room is a named broadcast scope that lives for the process lifetime.
// Rooms are immutable after creation; names are unique ignoring case.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy Identity  `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is an immutable chat event appended to exactly one room's history.
// Sender is a snapshot of the identity at send time.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Sender    Identity  `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
