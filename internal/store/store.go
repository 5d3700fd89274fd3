// Package store defines the persistence interface for StockTrak accounts and
// their append-only ledgers. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/model"
)

var (
	// ErrNotFound is returned when a user or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrUsernameTaken is returned by CreateUser for a duplicate username.
	ErrUsernameTaken = errors.New("store: username already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// CreateUser persists a new account. Returns ErrUsernameTaken on conflict.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByUsername retrieves a user by login name.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// ListUsers returns every account ordered by creation time.
	ListUsers(ctx context.Context) ([]model.User, error)

	// --- Immutable logs (oldest first) ---

	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)
	ListCashEvents(ctx context.Context, userID string) ([]model.CashEvent, error)
	ListShorts(ctx context.Context, userID string) ([]model.ShortPosition, error)
	ListShortCovers(ctx context.Context, userID string) ([]model.ShortCover, error)

	// --- Open positions ---

	// ListOpenShorts returns the user's open shorts, oldest first.
	ListOpenShorts(ctx context.Context, userID string) ([]model.ShortPosition, error)

	// ListOpenOptions returns the user's open options, oldest first.
	ListOpenOptions(ctx context.Context, userID string) ([]model.OptionPosition, error)

	// --- Atomic account unit ---

	// WithAccount runs fn with exclusive access to one account. Writes made
	// through the AccountTx take effect only if fn returns nil. Returns
	// ErrNotFound if the user does not exist.
	WithAccount(ctx context.Context, userID string, fn func(AccountTx) error) error
}

// AccountTx is the view of one locked account inside WithAccount.
type AccountTx interface {
	// Cash returns the balance as of the lock, including writes made in fn.
	Cash(ctx context.Context) (decimal.Decimal, error)
	SetCash(ctx context.Context, cash decimal.Decimal) error

	// SymbolTransactions returns the account's trades in symbol, oldest first.
	SymbolTransactions(ctx context.Context, symbol string) ([]model.Transaction, error)

	InsertTransaction(ctx context.Context, tx *model.Transaction) error
	InsertCashEvent(ctx context.Context, ev *model.CashEvent) error

	InsertShort(ctx context.Context, sp *model.ShortPosition) error

	// OldestOpenShort returns the open short in symbol with the earliest
	// open date, or ErrNotFound.
	OldestOpenShort(ctx context.Context, symbol string) (*model.ShortPosition, error)

	// UpdateShort persists Shares, Closed and CloseDate for an existing short.
	UpdateShort(ctx context.Context, sp *model.ShortPosition) error

	InsertShortCover(ctx context.Context, sc *model.ShortCover) error
	InsertOption(ctx context.Context, op *model.OptionPosition) error
}
