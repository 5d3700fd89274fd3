package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex covers all accounts; WithAccount holds it for the whole
// callback.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	txs     []model.Transaction
	cash    []model.CashEvent
	shorts  []model.ShortPosition
	covers  []model.ShortCover
	options []model.OptionPosition
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*model.User),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
	}

	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			copy := *u
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterByUser(s.txs, userID, func(t model.Transaction) string { return t.UserID }), nil
}

func (s *MemoryStore) ListCashEvents(_ context.Context, userID string) ([]model.CashEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterByUser(s.cash, userID, func(e model.CashEvent) string { return e.UserID }), nil
}

func (s *MemoryStore) ListShorts(_ context.Context, userID string) ([]model.ShortPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterByUser(s.shorts, userID, func(p model.ShortPosition) string { return p.UserID }), nil
}

func (s *MemoryStore) ListShortCovers(_ context.Context, userID string) ([]model.ShortCover, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterByUser(s.covers, userID, func(c model.ShortCover) string { return c.UserID }), nil
}

func (s *MemoryStore) ListOpenShorts(_ context.Context, userID string) ([]model.ShortPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ShortPosition
	for _, p := range s.shorts {
		if p.UserID == userID && !p.Closed {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListOpenOptions(_ context.Context, userID string) ([]model.OptionPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OptionPosition
	for _, o := range s.options {
		if o.UserID == userID && !o.Closed {
			result = append(result, o)
		}
	}
	return result, nil
}

// WithAccount stages writes in a memTx and applies them only when fn
// returns nil.
func (s *MemoryStore) WithAccount(ctx context.Context, userID string, fn func(AccountTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}

	tx := &memTx{s: s, userID: userID, cash: u.Cash}
	if err := fn(tx); err != nil {
		return err
	}

	u.Cash = tx.cash
	s.txs = append(s.txs, tx.txs...)
	s.cash = append(s.cash, tx.events...)
	s.shorts = append(s.shorts, tx.newShorts...)
	for _, upd := range tx.shortUpdates {
		for i := range s.shorts {
			if s.shorts[i].ID == upd.ID {
				s.shorts[i].Shares = upd.Shares
				s.shorts[i].Closed = upd.Closed
				s.shorts[i].CloseDate = upd.CloseDate
			}
		}
	}
	s.covers = append(s.covers, tx.covers...)
	s.options = append(s.options, tx.options...)
	return nil
}

// memTx reads committed state from s (whose lock the caller holds) and
// buffers writes until WithAccount applies them.
type memTx struct {
	s      *MemoryStore
	userID string
	cash   decimal.Decimal

	txs          []model.Transaction
	events       []model.CashEvent
	newShorts    []model.ShortPosition
	shortUpdates []model.ShortPosition
	covers       []model.ShortCover
	options      []model.OptionPosition
}

func (t *memTx) Cash(_ context.Context) (decimal.Decimal, error) {
	return t.cash, nil
}

func (t *memTx) SetCash(_ context.Context, cash decimal.Decimal) error {
	t.cash = cash
	return nil
}

func (t *memTx) SymbolTransactions(_ context.Context, symbol string) ([]model.Transaction, error) {
	var result []model.Transaction
	for _, list := range [][]model.Transaction{t.s.txs, t.txs} {
		for _, tr := range list {
			if tr.UserID == t.userID && tr.Symbol == symbol {
				result = append(result, tr)
			}
		}
	}
	return result, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	t.txs = append(t.txs, *tr)
	return nil
}

func (t *memTx) InsertCashEvent(_ context.Context, ev *model.CashEvent) error {
	t.events = append(t.events, *ev)
	return nil
}

func (t *memTx) InsertShort(_ context.Context, sp *model.ShortPosition) error {
	t.newShorts = append(t.newShorts, *sp)
	return nil
}

// OldestOpenShort considers committed rows only; a short opened and
// covered inside the same unit is not a supported sequence.
func (t *memTx) OldestOpenShort(_ context.Context, symbol string) (*model.ShortPosition, error) {
	var oldest *model.ShortPosition
	for i := range t.s.shorts {
		p := &t.s.shorts[i]
		if p.UserID != t.userID || p.Symbol != symbol || p.Closed {
			continue
		}
		if oldest == nil || p.OpenDate.Before(oldest.OpenDate) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	copy := *oldest
	return &copy, nil
}

func (t *memTx) UpdateShort(_ context.Context, sp *model.ShortPosition) error {
	t.shortUpdates = append(t.shortUpdates, *sp)
	return nil
}

func (t *memTx) InsertShortCover(_ context.Context, sc *model.ShortCover) error {
	t.covers = append(t.covers, *sc)
	return nil
}

func (t *memTx) InsertOption(_ context.Context, op *model.OptionPosition) error {
	t.options = append(t.options, *op)
	return nil
}

func filterByUser[T any](items []T, userID string, owner func(T) string) []T {
	var result []T
	for _, it := range items {
		if owner(it) == userID {
			result = append(result, it)
		}
	}
	return result
}
