package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mossy-p/roomcall/internal/models"
)

// MemoryRoomStore keeps reservations in process memory. It is used when
// Redis is disabled.
type MemoryRoomStore struct {
	mu    sync.Mutex
	rooms map[string]models.RoomMetadata
	codes map[string]string
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms: make(map[string]models.RoomMetadata),
		codes: make(map[string]string),
	}
}

func (s *MemoryRoomStore) Reserve(_ context.Context, name, creatorID string) (*models.RoomMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < 5; i++ {
		code, err := models.NewRoomCode()
		if err != nil {
			return nil, err
		}
		if _, taken := s.codes[code]; taken {
			continue
		}
		if name == "" {
			name = code
		}
		if _, taken := s.rooms[name]; taken {
			return nil, models.ErrRoomReserved
		}
		room := models.RoomMetadata{Name: name, Code: code, CreatorID: creatorID, CreatedAt: time.Now().UTC()}
		s.rooms[name] = room
		s.codes[code] = name
		return &room, nil
	}
	return nil, errors.New("failed to generate unique room code")
}

func (s *MemoryRoomStore) Get(_ context.Context, name string) (*models.RoomMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	if !ok {
		return nil, models.ErrReservationNotFound
	}
	return &room, nil
}

func (s *MemoryRoomStore) Resolve(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.codes[code]
	if !ok {
		return "", models.ErrReservationNotFound
	}
	return name, nil
}

func (s *MemoryRoomStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	if !ok {
		return models.ErrReservationNotFound
	}
	delete(s.rooms, name)
	delete(s.codes, room.Code)
	return nil
}
