package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Directory is the ordered, globally visible collection of rooms. Rooms are
// appended in creation order and never renamed or removed. Names are unique
// ignoring case: creating a colliding name returns the existing room instead
// of a duplicate.
type Directory struct {
	mu     sync.RWMutex
	rooms  []Room
	byName map[string]int // lowercased name -> index into rooms
	byID   map[string]int // room id -> index into rooms
	newID  func() string
}

// NewDirectory creates an empty directory. newID supplies fresh room ids.
func NewDirectory(newID func() string) *Directory {
	return &Directory{
		byName: make(map[string]int),
		byID:   make(map[string]int),
		newID:  newID,
	}
}

// List returns a snapshot of all rooms in insertion order. The result is
// never nil so it serializes as an empty JSON array.
func (d *Directory) List() []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]Room, len(d.rooms))
	copy(rooms, d.rooms)
	return rooms
}

// CreateOrGet returns the room with the given name, creating it when no room
// matches case-insensitively. The second result reports whether a new room
// was created. When two connections race on the same name, exactly one
// observes isNew=true; the other receives the winner's room.
func (d *Directory) CreateOrGet(creator Identity, rawName string) (Room, bool, error) {
	if creator.ID == "" {
		return Room{}, false, fmt.Errorf("%w: room creation requires login", ErrUnauthenticated)
	}
	name := strings.TrimSpace(rawName)
	if name == "" {
		return Room{}, false, fmt.Errorf("%w: room name is required", ErrInvalidInput)
	}

	key := strings.ToLower(name)

	d.mu.Lock()
	defer d.mu.Unlock()

	if i, ok := d.byName[key]; ok {
		return d.rooms[i], false, nil
	}

	room := Room{
		ID:        d.newID(),
		Name:      name,
		CreatedBy: creator,
		CreatedAt: time.Now(),
	}
	d.byName[key] = len(d.rooms)
	d.byID[room.ID] = len(d.rooms)
	d.rooms = append(d.rooms, room)

	return room, true, nil
}

// Get returns the room with the given id.
func (d *Directory) Get(id string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i, ok := d.byID[id]
	if !ok {
		return Room{}, false
	}
	return d.rooms[i], true
}

// Exists reports whether a room with the given id exists.
func (d *Directory) Exists(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.byID[id]
	return ok
}
