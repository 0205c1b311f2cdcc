// Package idgen produces the identifiers used across the chat domain:
// lexically sortable ULIDs for rooms and random UUIDs for messages.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRoomID returns a monotonic ULID string. Room ids created by the same
// process sort in creation order.
func NewRoomID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewMessageID returns a random UUID string.
func NewMessageID() string {
	return uuid.NewString()
}
