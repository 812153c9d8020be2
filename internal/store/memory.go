// internal/store/memory.go
package store

import (
	"context"
	"sync"
	"time"

	"github.com/statroom/statroom/internal/models"
	"github.com/statroom/statroom/internal/room"
)

// MemoryStore is a process-local Store. It backs tests and the storeless
// dev mode; contents are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*models.Room),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, r *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.RoomCode]; exists {
		return room.ErrRoomExists
	}
	s.rooms[r.RoomCode] = r.Clone()
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.rooms[models.NormalizeRoomCode(code)]
	if !exists {
		return nil, room.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) SaveRoom(ctx context.Context, r *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.RoomCode]; !exists {
		return room.ErrRoomNotFound
	}
	s.rooms[r.RoomCode] = r.Clone()
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, models.NormalizeRoomCode(code))
	return nil
}

func (s *MemoryStore) ListIdleRooms(ctx context.Context, olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for code, r := range s.rooms {
		if r.UpdatedAt.Before(olderThan) {
			codes = append(codes, code)
		}
	}
	return codes, nil
}
