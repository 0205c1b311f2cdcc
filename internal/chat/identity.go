package chat

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps connection handles to authenticated identities. Exactly one
// identity exists per live authenticated connection; the binding is created
// on login and removed when the connection closes.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

// NewRegistry creates an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{identities: make(map[string]Identity)}
}

// Authenticate binds connID to the trimmed display name and returns the
// resulting identity. A repeated login on the same connection overwrites the
// previous binding; display names need not be unique across connections.
func (r *Registry) Authenticate(connID, rawName string) (Identity, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return Identity{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}

	identity := Identity{ID: connID, Name: name}

	r.mu.Lock()
	r.identities[connID] = identity
	r.mu.Unlock()

	return identity, nil
}

// Lookup returns the identity bound to connID, if any.
func (r *Registry) Lookup(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[connID]
	return identity, ok
}

// Release removes the binding for connID. Releasing an unknown or already
// released connection is a no-op.
func (r *Registry) Release(connID string) {
	r.mu.Lock()
	delete(r.identities, connID)
	r.mu.Unlock()
}

// Count reports the number of live authenticated connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
