package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stocktrak/stocktrak/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Account mutations go to the primary store and invalidate the
// user's cached entries; reads check Redis first then fall back to the
// primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// cachedUser keeps the password hash, which model.User omits from JSON.
type cachedUser struct {
	model.User
	Hash string `json:"hash"`
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) WithAccount(ctx context.Context, userID string, fn func(AccountTx) error) error {
	if err := s.primary.WithAccount(ctx, userID, fn); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

// Invalidate drops every cached read for userID.
func (s *CachedStore) Invalidate(ctx context.Context, userID string) {
	s.rdb.Del(ctx, userKey(userID), transactionsKey(userID))
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var cu cachedUser
		if json.Unmarshal(data, &cu) == nil {
			cu.User.PasswordHash = cu.Hash
			return &cu.User, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cachedUser{User: *u, Hash: u.PasswordHash}); err == nil {
		s.rdb.Set(ctx, userKey(id), data, s.ttl)
	}
	return u, nil
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	data, err := s.rdb.Get(ctx, transactionsKey(userID)).Bytes()
	if err == nil {
		var txs []model.Transaction
		if json.Unmarshal(data, &txs) == nil {
			return txs, nil
		}
	}

	txs, err := s.primary.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(txs); err == nil {
		s.rdb.Set(ctx, transactionsKey(userID), data, s.ttl)
	}
	return txs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByUsername(ctx, username)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) ListCashEvents(ctx context.Context, userID string) ([]model.CashEvent, error) {
	return s.primary.ListCashEvents(ctx, userID)
}

func (s *CachedStore) ListShorts(ctx context.Context, userID string) ([]model.ShortPosition, error) {
	return s.primary.ListShorts(ctx, userID)
}

func (s *CachedStore) ListShortCovers(ctx context.Context, userID string) ([]model.ShortCover, error) {
	return s.primary.ListShortCovers(ctx, userID)
}

func (s *CachedStore) ListOpenShorts(ctx context.Context, userID string) ([]model.ShortPosition, error) {
	return s.primary.ListOpenShorts(ctx, userID)
}

func (s *CachedStore) ListOpenOptions(ctx context.Context, userID string) ([]model.OptionPosition, error) {
	return s.primary.ListOpenOptions(ctx, userID)
}

// --- Cache keys ---

func userKey(id string) string          { return fmt.Sprintf("user:%s", id) }
func transactionsKey(uid string) string { return fmt.Sprintf("transactions:%s", uid) }
