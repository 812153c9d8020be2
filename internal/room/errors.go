// internal/room/errors.go
package room

import "errors"

// Error taxonomy for room mutations. Handlers match these with errors.Is
// and convert them to protocol error frames at the message boundary.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomExists     = errors.New("room exists")
	ErrPlayerNotFound = errors.New("player not found")
	ErrInvalidField   = errors.New("invalid field update")
	ErrMissingField   = errors.New("missing required field")
)
