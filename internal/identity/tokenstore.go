package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps short-lived opaque values: refresh tokens, reset
// tokens, revoked sessions and login failure counters.
type TokenStore interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// Take returns the value and deletes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// Incr bumps a counter and sets its ttl when the key is new.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisTokens implements TokenStore on redis.
type RedisTokens struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTokens wraps client. Keys are namespaced with prefix.
func NewRedisTokens(client redis.UniversalClient, prefix string) *RedisTokens {
	return &RedisTokens{client: client, prefix: prefix}
}

func (s *RedisTokens) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *RedisTokens) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	return v, err
}

func (s *RedisTokens) Take(ctx context.Context, key string) (string, error) {
	v, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	return v, err
}

func (s *RedisTokens) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisTokens) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := s.client.Expire(ctx, s.prefix+key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// MemoryTokens implements TokenStore in process with lazy expiry.
type MemoryTokens struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryTokens) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{value: value, expires: s.expiry(ttl)}
	return nil
}

func (s *MemoryTokens) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return "", ErrTokenNotFound
	}
	return it.value, nil
}

func (s *MemoryTokens) Take(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	if !ok {
		return "", ErrTokenNotFound
	}
	delete(s.items, key)
	return it.value, nil
}

func (s *MemoryTokens) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryTokens) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live(key)
	var n int64
	if ok {
		n, _ = strconv.ParseInt(it.value, 10, 64)
	} else {
		it.expires = s.expiry(ttl)
	}
	n++
	it.value = strconv.FormatInt(n, 10)
	s.items[key] = it
	return n, nil
}

func (s *MemoryTokens) live(key string) (memoryItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expires.IsZero() && !s.now().Before(it.expires) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (s *MemoryTokens) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
