// internal/store/store.go
package store

import (
	"context"
	"time"

	"github.com/statroom/statroom/internal/models"
)

// Store is the durable keyed storage of room documents. Implementations
// hold no business logic; the engine owns validation and serialization.
// GetRoom returns a copy the caller may mutate freely before SaveRoom.
type Store interface {
	// CreateRoom persists a brand-new room. Returns room.ErrRoomExists if
	// the code is already taken.
	CreateRoom(ctx context.Context, r *models.Room) error

	// GetRoom fetches the room by normalized code. Returns
	// room.ErrRoomNotFound if absent.
	GetRoom(ctx context.Context, code string) (*models.Room, error)

	// SaveRoom writes back a mutated room document. Returns
	// room.ErrRoomNotFound if the room was deleted out from under it.
	SaveRoom(ctx context.Context, r *models.Room) error

	// DeleteRoom removes a room. Deleting an absent room is not an error.
	DeleteRoom(ctx context.Context, code string) error

	// ListIdleRooms returns the codes of rooms whose UpdatedAt is older
	// than the cutoff, for the retention sweeper.
	ListIdleRooms(ctx context.Context, olderThan time.Time) ([]string, error)
}
