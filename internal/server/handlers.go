// Package server exposes HTTP handlers, including the WebSocket upgrade and
// health check endpoints.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler returns the handler for WebSocket upgrade requests. Each
// accepted connection gets a fresh connection id, is registered with the hub
// in the unauthenticated state, and receives the initialRooms push before
// any login.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, uuid.NewString(), r.RemoteAddr)

		// Register the client with the hub; the hub launches the pump goroutines.
		hub.register <- client
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status as plain text.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay server is running!")
}
