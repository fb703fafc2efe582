package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-ehr-connect/internal/errors"
	"github.com/jrsteele09/go-ehr-connect/internal/seal"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sealed TokenSets in Redis so that several server instances
// can share sessions. Values are encrypted at rest.
type RedisStore struct {
	client    redis.Cmdable
	sealer    *seal.Sealer
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the key prefix (default "smart:session").
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

func NewRedisStore(client redis.Cmdable, sealer *seal.Sealer, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		sealer:    sealer,
		keyPrefix: "smart:session",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + ":" + sessionID
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, ts *TokenSet, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if ts == nil {
		return fmt.Errorf("token set is required")
	}
	raw, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("[RedisStore Put] marshal: %w", err)
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return fmt.Errorf("[RedisStore Put] seal: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), sealed, ttl).Err(); err != nil {
		return fmt.Errorf("[RedisStore Put] set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*TokenSet, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}
	sealed, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisStore Get] get: %w", err)
	}
	raw, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("[RedisStore Get] open: %w", err)
	}
	var ts TokenSet
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("[RedisStore Get] unmarshal: %w", err)
	}
	return &ts, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("[RedisStore Delete] del: %w", err)
	}
	return nil
}
