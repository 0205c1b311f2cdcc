// Package server coordinates client registration, room membership, and event
// broadcast for the Relay WebSocket system via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/relaychat/relay/internal/chat"
)

// command is one decoded client request awaiting serialized execution.
type command struct {
	client   *Client
	envelope Envelope
}

// Hub owns the connection set and the room membership relation, and is the
// single serializing actor for the chat stores: every client command is
// executed from the Run loop, so room creation, joins, and message appends
// across connections form one total order. Broadcasts are emitted from the
// same loop, which keeps per-room delivery order identical to append order.
type Hub struct {
	registry  *chat.Registry
	directory *chat.Directory
	history   *chat.History

	clients map[*Client]bool
	// membership relation, both directions: at most one room per connection.
	memberOf map[*Client]string
	rooms    map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	commands   chan command

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub operating on the given stores. The returned Hub is
// ready to manage WebSocket connections once Run is started.
func NewHub(registry *chat.Registry, directory *chat.Directory, history *chat.History) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   registry,
		directory:  directory,
		history:    history,
		clients:    make(map[*Client]bool),
		memberOf:   make(map[*Client]string),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan command),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and serialized command execution. This method should be
// called in a separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case cmd := <-h.commands:
			h.dispatch(cmd)
		}
	}
}

// handleRegister admits a connection in the unauthenticated state, starts its
// pumps, and pushes the current room directory before any login.
func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	h.sendEvent(client, EventInitialRooms, RoomListEvent{Rooms: h.directory.List()})
}

// handleUnregister tears down a connection: the identity binding is released
// and the membership relation dropped, then the send channel is closed. Both
// cleanups are idempotent, so a duplicate unregister is harmless.
func (h *Hub) handleUnregister(client *Client) {
	h.registry.Release(client.id)
	h.leaveAll(client)

	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock.
		close(client.send)
		log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, clientCount)
	} else {
		h.mutex.Unlock()
	}
}

// subscribe moves the connection into the target room's broadcast group,
// leaving whatever group it was in first. Re-joining the current room is a
// no-op, so a duplicate join never causes double delivery.
func (h *Hub) subscribe(client *Client, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.memberOf[client]; ok {
		if current == roomID {
			return
		}
		h.dropMembershipLocked(client, current)
	}

	h.memberOf[client] = roomID
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
}

// leaveAll removes the connection from its broadcast group, if any.
func (h *Hub) leaveAll(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.memberOf[client]; ok {
		h.dropMembershipLocked(client, current)
	}
}

func (h *Hub) dropMembershipLocked(client *Client, roomID string) {
	delete(h.memberOf, client)
	if group, ok := h.rooms[roomID]; ok {
		delete(group, client)
		if len(group) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// sendEvent marshals and delivers an event to one client over its private
// send channel, the path also used for direct action replies.
func (h *Hub) sendEvent(client *Client, event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		log.Printf("Error encoding %s event for %s: %v", event, client.addr, err)
		return
	}
	if !h.safeSend(client, frame) {
		h.removeFailedClients([]*Client{client})
	}
}

// broadcastAll fans an event out to every connected client, logged in or not.
func (h *Hub) broadcastAll(event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		log.Printf("Error encoding %s broadcast: %v", event, err)
		return
	}

	clients := h.clientSnapshot()
	log.Printf("Broadcasting %s to %d clients", event, len(clients))
	h.deliver(clients, frame)
}

// broadcastToRoom fans an event out to the current members of one room, and
// only those. Connections that join later get earlier messages from the
// backlog, never from broadcast.
func (h *Hub) broadcastToRoom(roomID, event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		log.Printf("Error encoding %s broadcast for room %s: %v", event, roomID, err)
		return
	}

	members := h.roomSnapshot(roomID)
	log.Printf("Broadcasting %s to %d members of room %s", event, len(members), roomID)
	h.deliver(members, frame)
}

func (h *Hub) deliver(clients []*Client, frame []byte) {
	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// clientSnapshot returns a thread-safe snapshot of all current clients.
func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return lo.Keys(h.clients)
}

// roomSnapshot returns a thread-safe snapshot of one room's members.
func (h *Hub) roomSnapshot(roomID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return lo.Keys(h.rooms[roomID])
}

// removeFailedClients removes clients whose send buffers are full and closes
// their channels.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			if current, ok := h.memberOf[client]; ok {
				h.dropMembershipLocked(client, current)
			}
			h.registry.Release(client.id)
			channelsToClose = append(channelsToClose, client.send)
			log.Printf("Client %s removed due to full send buffer", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock.
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()

	// Wait for Run() to complete.
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
