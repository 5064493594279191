package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MembersTTL bounds how long a stale roster survives a crashed server.
const MembersTTL = 24 * time.Hour

// PresenceStore mirrors live room rosters into Redis hashes
// keyed <prefix>:room:<name>:members, field = connection id, value = display name.
type PresenceStore struct {
	rdb    *redis.Client
	prefix string
}

func NewPresenceStore(rdb *redis.Client, prefix string) *PresenceStore {
	return &PresenceStore{rdb: rdb, prefix: keyPrefix(prefix)}
}

func (s *PresenceStore) membersKey(room string) string {
	return fmt.Sprintf("%s:room:%s:members", s.prefix, room)
}

func (s *PresenceStore) AddMember(ctx context.Context, room, id, name string) error {
	key := s.membersKey(room)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, id, name)
	pipe.Expire(ctx, key, MembersTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add member %s to %s: %w", id, room, err)
	}
	return nil
}

// RemoveMember deletes one field. Redis removes the hash with its last field.
func (s *PresenceStore) RemoveMember(ctx context.Context, room, id string) error {
	if err := s.rdb.HDel(ctx, s.membersKey(room), id).Err(); err != nil {
		return fmt.Errorf("remove member %s from %s: %w", id, room, err)
	}
	return nil
}

// Members returns the mirrored roster of room as id -> display name.
func (s *PresenceStore) Members(ctx context.Context, room string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, s.membersKey(room)).Result()
}
