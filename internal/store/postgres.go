package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/model"
)

// DBConfig holds configuration for the PostgreSQL connection pool.
type DBConfig struct {
	// URL is the PostgreSQL connection string.
	URL string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultDBConfig returns a DBConfig with sensible defaults.
func DefaultDBConfig(url string) DBConfig {
	return DBConfig{
		URL:             url,
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
	}
}

// OpenPool creates a pgx pool and pings it. The caller closes the pool.
func OpenPool(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, logger: slog.Default().With("component", "postgres")}
}

const uniqueViolation = "23505"

const userColumns = `id, username, hash, cash::TEXT, initial_cash::TEXT, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, hash, cash, initial_cash, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		u.ID, u.Username, u.PasswordHash, u.Cash.String(), u.InitialCash.String(), u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var cash, initial string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &cash, &initial, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Cash, _ = decimal.NewFromString(cash)
	u.InitialCash, _ = decimal.NewFromString(initial)
	return &u, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, shares, price::TEXT, type, date
		 FROM transactions WHERE user_id = $1 ORDER BY date, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListCashEvents(ctx context.Context, userID string) ([]model.CashEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount::TEXT, date
		 FROM cash_history WHERE user_id = $1 ORDER BY date, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.CashEvent
	for rows.Next() {
		var e model.CashEvent
		var amount string
		if err := rows.Scan(&e.ID, &e.UserID, &amount, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		events = append(events, e)
	}
	return events, rows.Err()
}

const shortColumns = `id, user_id, symbol, shares, opened_shares, price::TEXT, open_date, closed, close_date`

func (s *PostgresStore) ListShorts(ctx context.Context, userID string) ([]model.ShortPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+shortColumns+` FROM shorts WHERE user_id = $1 ORDER BY open_date, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShorts(rows)
}

func (s *PostgresStore) ListOpenShorts(ctx context.Context, userID string) ([]model.ShortPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+shortColumns+` FROM shorts
		 WHERE user_id = $1 AND NOT closed ORDER BY open_date, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShorts(rows)
}

func (s *PostgresStore) ListShortCovers(ctx context.Context, userID string) ([]model.ShortCover, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, short_id, user_id, symbol, shares, price::TEXT, date
		 FROM short_covers WHERE user_id = $1 ORDER BY date, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var covers []model.ShortCover
	for rows.Next() {
		var c model.ShortCover
		var price string
		if err := rows.Scan(&c.ID, &c.ShortID, &c.UserID, &c.Symbol, &c.Shares, &price, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Price, _ = decimal.NewFromString(price)
		covers = append(covers, c)
	}
	return covers, rows.Err()
}

func (s *PostgresStore) ListOpenOptions(ctx context.Context, userID string) ([]model.OptionPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, type, strike::TEXT, premium::TEXT, expiration, contracts, closed, opened_at
		 FROM options WHERE user_id = $1 AND NOT closed ORDER BY opened_at, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opts []model.OptionPosition
	for rows.Next() {
		var o model.OptionPosition
		var strike, premium string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Type, &strike, &premium,
			&o.Expiration, &o.Contracts, &o.Closed, &o.OpenedAt); err != nil {
			return nil, err
		}
		o.Strike, _ = decimal.NewFromString(strike)
		o.Premium, _ = decimal.NewFromString(premium)
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

// WithAccount runs fn inside one transaction holding a row lock on the user.
// The transaction is rolled back if fn returns an error or panics.
func (s *PostgresStore) WithAccount(ctx context.Context, userID string, fn func(AccountTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("failed to rollback transaction after panic", "err", rbErr)
			}
			panic(p)
		}
	}()

	var cash string
	err = tx.QueryRow(ctx, `SELECT cash::TEXT FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&cash)
	if err != nil {
		s.rollback(ctx, tx, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock account %s: %w", userID, err)
	}

	ptx := &pgTx{tx: tx, userID: userID}
	ptx.cash, _ = decimal.NewFromString(cash)

	if err := fn(ptx); err != nil {
		s.rollback(ctx, tx, err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) rollback(ctx context.Context, tx pgx.Tx, cause error) {
	if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
		s.logger.Error("failed to rollback transaction", "err", rbErr, "cause", cause)
	}
}

// pgTx is the AccountTx for one locked user row.
type pgTx struct {
	tx     pgx.Tx
	userID string
	cash   decimal.Decimal
}

func (t *pgTx) Cash(_ context.Context) (decimal.Decimal, error) {
	return t.cash, nil
}

func (t *pgTx) SetCash(ctx context.Context, cash decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET cash = $2::NUMERIC WHERE id = $1`, t.userID, cash.String())
	if err != nil {
		return fmt.Errorf("set cash: %w", err)
	}
	t.cash = cash
	return nil
}

func (t *pgTx) SymbolTransactions(ctx context.Context, symbol string) ([]model.Transaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, symbol, shares, price::TEXT, type, date
		 FROM transactions WHERE user_id = $1 AND symbol = $2 ORDER BY date, seq`, t.userID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, shares, price, type, date)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		tr.ID, tr.UserID, tr.Symbol, tr.Shares, tr.Price.String(), tr.Type, tr.Timestamp,
	)
	return err
}

func (t *pgTx) InsertCashEvent(ctx context.Context, ev *model.CashEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO cash_history (id, user_id, amount, date) VALUES ($1, $2, $3::NUMERIC, $4)`,
		ev.ID, ev.UserID, ev.Amount.String(), ev.Timestamp,
	)
	return err
}

func (t *pgTx) InsertShort(ctx context.Context, sp *model.ShortPosition) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO shorts (id, user_id, symbol, shares, opened_shares, price, open_date, closed)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, FALSE)`,
		sp.ID, sp.UserID, sp.Symbol, sp.Shares, sp.OpenedShares, sp.Price.String(), sp.OpenDate,
	)
	return err
}

func (t *pgTx) OldestOpenShort(ctx context.Context, symbol string) (*model.ShortPosition, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+shortColumns+` FROM shorts
		 WHERE user_id = $1 AND symbol = $2 AND NOT closed
		 ORDER BY open_date, seq LIMIT 1
		 FOR UPDATE`, t.userID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shorts, err := scanShorts(rows)
	if err != nil {
		return nil, err
	}
	if len(shorts) == 0 {
		return nil, ErrNotFound
	}
	return &shorts[0], nil
}

func (t *pgTx) UpdateShort(ctx context.Context, sp *model.ShortPosition) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE shorts SET shares = $2, closed = $3, close_date = $4 WHERE id = $1`,
		sp.ID, sp.Shares, sp.Closed, sp.CloseDate,
	)
	return err
}

func (t *pgTx) InsertShortCover(ctx context.Context, sc *model.ShortCover) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO short_covers (id, short_id, user_id, symbol, shares, price, date)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		sc.ID, sc.ShortID, sc.UserID, sc.Symbol, sc.Shares, sc.Price.String(), sc.Timestamp,
	)
	return err
}

func (t *pgTx) InsertOption(ctx context.Context, op *model.OptionPosition) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO options (id, user_id, symbol, type, strike, premium, expiration, contracts, closed, opened_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, FALSE, $9)`,
		op.ID, op.UserID, op.Symbol, op.Type, op.Strike.String(), op.Premium.String(),
		op.Expiration, op.Contracts, op.OpenedAt,
	)
	return err
}

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var tr model.Transaction
		var price string
		if err := rows.Scan(&tr.ID, &tr.UserID, &tr.Symbol, &tr.Shares, &price, &tr.Type, &tr.Timestamp); err != nil {
			return nil, err
		}
		tr.Price, _ = decimal.NewFromString(price)
		txs = append(txs, tr)
	}
	return txs, rows.Err()
}

func scanShorts(rows pgxRows) ([]model.ShortPosition, error) {
	var shorts []model.ShortPosition
	for rows.Next() {
		var sp model.ShortPosition
		var price string
		if err := rows.Scan(&sp.ID, &sp.UserID, &sp.Symbol, &sp.Shares, &sp.OpenedShares,
			&price, &sp.OpenDate, &sp.Closed, &sp.CloseDate); err != nil {
			return nil, err
		}
		sp.Price, _ = decimal.NewFromString(price)
		shorts = append(shorts, sp)
	}
	return shorts, rows.Err()
}
