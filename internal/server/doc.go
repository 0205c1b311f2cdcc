// Package server implements the connection boundary of the Relay chat
// coordinator: the WebSocket session gateway, the hub that owns room
// membership and broadcast routing, and the HTTP plumbing around them.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the event gateway, routing, and HTTP handlers to
// keep the codebase maintainable and testable as the project grows.
package server
