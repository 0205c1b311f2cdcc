package chat

import "errors"

// Error taxonomy shared by every store. The gateway matches these with
// errors.Is and maps them to wire error codes.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrRoomNotFound    = errors.New("room not found")
)
