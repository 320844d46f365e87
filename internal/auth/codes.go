package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// CodeStore keeps one pending verification code per phone number.
type CodeStore interface {
	// Save stores code for phone, replacing any previous code.
	Save(ctx context.Context, phone, code string, ttl time.Duration) error

	// Consume checks code against the stored one and deletes it on success.
	// Returns ErrCodeExpired when nothing is stored and ErrInvalidCode on a
	// mismatch, which leaves the stored code in place.
	Consume(ctx context.Context, phone, code string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

func codesMatch(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

const redisKeyPrefix = "reborn:verify:"

// RedisCodeStore keeps codes in Redis with native key expiry.
type RedisCodeStore struct {
	client *redis.Client
}

// NewRedisCodeStore connects to redisURL and verifies the connection.
func NewRedisCodeStore(ctx context.Context, redisURL string) (*RedisCodeStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCodeStore{client: client}, nil
}

func redisKey(phone string) string {
	return redisKeyPrefix + phone
}

// Save stores the code with a TTL.
func (s *RedisCodeStore) Save(ctx context.Context, phone, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(phone), code, ttl).Err(); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	return nil
}

// Consume verifies and deletes the code. Deleting is the commit point, so
// two concurrent correct guesses cannot both succeed.
func (s *RedisCodeStore) Consume(ctx context.Context, phone, code string) error {
	stored, err := s.client.Get(ctx, redisKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCodeExpired
	}
	if err != nil {
		return fmt.Errorf("load verification code: %w", err)
	}
	if !codesMatch(stored, code) {
		return ErrInvalidCode
	}

	deleted, err := s.client.Del(ctx, redisKey(phone)).Result()
	if err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	if deleted == 0 {
		return ErrCodeExpired
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisCodeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisCodeStore) Close() error {
	return s.client.Close()
}

// MemoryCodeStore keeps codes in process memory. Codes do not survive a
// restart and are not shared between instances, so it only suits
// single-instance and development deployments.
type MemoryCodeStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryCodeStore creates an in-process store that purges expired codes
// every cleanupInterval.
func NewMemoryCodeStore(cleanupInterval time.Duration) *MemoryCodeStore {
	return &MemoryCodeStore{cache: cache.New(cache.NoExpiration, cleanupInterval)}
}

// Save stores the code with a TTL.
func (s *MemoryCodeStore) Save(_ context.Context, phone, code string, ttl time.Duration) error {
	s.cache.Set(phone, code, ttl)
	return nil
}

// Consume verifies and deletes the code.
func (s *MemoryCodeStore) Consume(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.cache.Get(phone)
	if !found {
		return ErrCodeExpired
	}
	stored, ok := value.(string)
	if !ok || !codesMatch(stored, code) {
		return ErrInvalidCode
	}
	s.cache.Delete(phone)
	return nil
}

// Ping always succeeds.
func (s *MemoryCodeStore) Ping(context.Context) error {
	return nil
}
