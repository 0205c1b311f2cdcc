// Package chat holds the in-memory authoritative state of the Relay server:
// the identity registry binding connections to display names, the room
// directory, and the per-room message history.
//
// Each store owns its data exclusively and is safe for concurrent use. Data
// that crosses store boundaries (an Identity embedded in a Room or Message)
// is copied at creation time, so later registry changes never alter history.
package chat
