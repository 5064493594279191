package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/roomcall/internal/models"
)

const RoomTTL = 24 * time.Hour

// RoomStore persists room reservations. Each reservation is stored as JSON
// under <prefix>:reservation:<name> with a <prefix>:code:<code> -> name index.
type RoomStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRoomStore(rdb *redis.Client, prefix string) *RoomStore {
	return &RoomStore{rdb: rdb, prefix: keyPrefix(prefix), ttl: RoomTTL}
}

func (s *RoomStore) roomKey(name string) string {
	return fmt.Sprintf("%s:reservation:%s", s.prefix, name)
}

func (s *RoomStore) codeKey(code string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, code)
}

// Reserve stores a new reservation. An empty name reserves the generated code
// itself as the room name.
func (s *RoomStore) Reserve(ctx context.Context, name, creatorID string) (*models.RoomMetadata, error) {
	for i := 0; i < 5; i++ {
		code, err := models.NewRoomCode()
		if err != nil {
			return nil, err
		}
		ok, err := s.rdb.SetNX(ctx, s.codeKey(code), "", s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve code: %w", err)
		}
		if !ok {
			continue
		}

		room := models.RoomMetadata{
			Name:      name,
			Code:      code,
			CreatorID: creatorID,
			CreatedAt: time.Now().UTC(),
		}
		if room.Name == "" {
			room.Name = code
		}
		data, err := json.Marshal(room)
		if err != nil {
			return nil, err
		}

		created, err := s.rdb.SetNX(ctx, s.roomKey(room.Name), data, s.ttl).Result()
		if err != nil || !created {
			s.rdb.Del(ctx, s.codeKey(code))
			if err != nil {
				return nil, fmt.Errorf("store reservation: %w", err)
			}
			return nil, models.ErrRoomReserved
		}
		if err := s.rdb.Set(ctx, s.codeKey(code), room.Name, s.ttl).Err(); err != nil {
			return nil, fmt.Errorf("store room code: %w", err)
		}
		return &room, nil
	}
	return nil, errors.New("failed to generate unique room code")
}

// Get returns the reservation for name, or models.ErrReservationNotFound.
func (s *RoomStore) Get(ctx context.Context, name string) (*models.RoomMetadata, error) {
	data, err := s.rdb.Get(ctx, s.roomKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}

	var room models.RoomMetadata
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	return &room, nil
}

// Resolve maps a room code to its reserved room name.
func (s *RoomStore) Resolve(ctx context.Context, code string) (string, error) {
	name, err := s.rdb.Get(ctx, s.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && name == "") {
		return "", models.ErrReservationNotFound
	}
	return name, err
}

func (s *RoomStore) Delete(ctx context.Context, name string) error {
	room, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.roomKey(name), s.codeKey(room.Code)).Err(); err != nil {
		return fmt.Errorf("delete reservation %s: %w", name, err)
	}
	return nil
}
