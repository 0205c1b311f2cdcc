// Package server wires HTTP handlers into a mux.Router for the Relay
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all application routes:
// health checks and the WebSocket endpoint for the given hub.
func SetupRoutes(hub *Hub) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", WebSocketHandler(hub)).Methods(http.MethodGet)
	return router
}
