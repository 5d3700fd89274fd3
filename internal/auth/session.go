package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when a token is unknown or expired.
var ErrNoSession = errors.New("auth: no session")

// SessionStore maps opaque tokens to user IDs.
type SessionStore interface {
	Create(ctx context.Context, userID string) (string, error)
	Lookup(ctx context.Context, token string) (string, error)
	// Destroy removes the session and reports whether one existed.
	Destroy(ctx context.Context, token string) (bool, error)
}

// MemorySessions keeps sessions in process memory. Expired entries are
// dropped on lookup.
type MemorySessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memSession
}

type memSession struct {
	userID  string
	expires time.Time
}

// NewMemorySessions creates an in-memory session store.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memSession),
	}
}

func (m *MemorySessions) Create(_ context.Context, userID string) (string, error) {
	token := uuid.New().String()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = memSession{userID: userID, expires: m.now().Add(m.ttl)}
	return token, nil
}

func (m *MemorySessions) Lookup(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return "", ErrNoSession
	}
	if !m.now().Before(s.expires) {
		delete(m.sessions, token)
		return "", ErrNoSession
	}
	return s.userID, nil
}

func (m *MemorySessions) Destroy(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[token]
	delete(m.sessions, token)
	return ok, nil
}

// RedisSessions stores sessions as Redis keys with a TTL, so they survive
// restarts and are shared across instances.
type RedisSessions struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisSessions creates a Redis-backed session store.
func NewRedisSessions(rdb redis.Cmdable, ttl time.Duration) *RedisSessions {
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

func (r *RedisSessions) Create(ctx context.Context, userID string) (string, error) {
	token := uuid.New().String()
	if err := r.rdb.Set(ctx, sessionKey(token), userID, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

func (r *RedisSessions) Lookup(ctx context.Context, token string) (string, error) {
	userID, err := r.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	return userID, nil
}

func (r *RedisSessions) Destroy(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Del(ctx, sessionKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("destroy session: %w", err)
	}
	return n > 0, nil
}

func sessionKey(token string) string { return fmt.Sprintf("session:%s", token) }
