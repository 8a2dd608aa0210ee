package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

const profilePrefix = "checkbot_profile_"

func profileKey(uid string) string { return profilePrefix + uid }

// RedisProfileStore keeps one student profile per identity, without expiry.
type RedisProfileStore struct {
	rdb *redis.Client
}

// NewRedisProfileStore binds the store to a Redis client.
func NewRedisProfileStore(rdb *redis.Client) *RedisProfileStore {
	return &RedisProfileStore{rdb: rdb}
}

// Get returns the profile of uid or ErrNotFound.
func (s *RedisProfileStore) Get(ctx context.Context, uid string) (model.Profile, error) {
	raw, err := s.rdb.Get(ctx, profileKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, classify("get profile", err)
	}
	var p model.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Profile{}, ErrNotFound
	}
	return p, nil
}

// Put replaces the profile of uid.
func (s *RedisProfileStore) Put(ctx context.Context, uid string, p model.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return classify("put profile", s.rdb.Set(ctx, profileKey(uid), raw, 0).Err())
}

// MemoryProfileStore is the in-process fallback profile store.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]model.Profile
}

// NewMemoryProfileStore returns an empty in-memory store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]model.Profile)}
}

func (s *MemoryProfileStore) Get(_ context.Context, uid string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryProfileStore) Put(_ context.Context, uid string, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[uid] = p
	return nil
}
