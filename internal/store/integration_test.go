//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stocktrak/stocktrak/internal/model"
)

// setupPostgres starts a PostgreSQL container, applies migrations and
// returns a connected pool.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	pool, err := OpenPool(ctx, DefaultDBConfig(dsn))
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := NewMigrator(pool, nil).ApplyAll(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "6379")
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newUser(id, name string, cash int64) *model.User {
	return &model.User{
		ID:           id,
		Username:     name,
		PasswordHash: "hash-" + name,
		Cash:         decimal.NewFromInt(cash),
		InitialCash:  decimal.NewFromInt(cash),
		CreatedAt:    time.Now().UTC(),
	}
}

func TestMigrator_Idempotent(t *testing.T) {
	pool := setupPostgres(t)
	n, err := NewMigrator(pool, nil).ApplyAll(context.Background())
	if err != nil {
		t.Fatalf("second ApplyAll: %v", err)
	}
	if n != 0 {
		t.Errorf("applied %d migrations on rerun, want 0", n)
	}
}

func TestPostgresStore_UsersAndLogs(t *testing.T) {
	ctx := context.Background()
	st := NewPostgresStore(setupPostgres(t))

	if err := st.CreateUser(ctx, newUser("u1", "alice", 10000)); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := st.CreateUser(ctx, newUser("u2", "alice", 10000)); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate err = %v, want ErrUsernameTaken", err)
	}
	if _, err := st.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		if err := tx.SetCash(ctx, decimal.RequireFromString("9499.75")); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, &model.Transaction{
			ID: "t1", UserID: "u1", Symbol: "AAPL", Shares: 10,
			Price: decimal.RequireFromString("50.025"), Type: model.TypeBuy, Timestamp: now,
		})
	})
	if err != nil {
		t.Fatalf("WithAccount: %v", err)
	}

	u, err := st.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if !u.Cash.Equal(decimal.RequireFromString("9499.75")) {
		t.Errorf("cash = %s, want 9499.75", u.Cash)
	}
	if u.PasswordHash != "hash-alice" {
		t.Errorf("hash = %q, want hash-alice", u.PasswordHash)
	}

	txs, _ := st.ListTransactions(ctx, "u1")
	if len(txs) != 1 || !txs[0].Price.Equal(decimal.RequireFromString("50.025")) {
		t.Errorf("transactions = %+v, want one at 50.025", txs)
	}
}

func TestPostgresStore_EqualTimestampsKeepInsertOrder(t *testing.T) {
	ctx := context.Background()
	st := NewPostgresStore(setupPostgres(t))
	if err := st.CreateUser(ctx, newUser("u1", "alice", 10000)); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	ids := []string{"zz-first", "mm-second", "aa-third"}
	err := st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		for _, id := range ids {
			err := tx.InsertTransaction(ctx, &model.Transaction{
				ID: id, UserID: "u1", Symbol: "AAPL", Shares: 1,
				Price: decimal.NewFromInt(1), Type: model.TypeBuy, Timestamp: now,
			})
			if err != nil {
				return err
			}
			err = tx.InsertCashEvent(ctx, &model.CashEvent{
				ID: id, UserID: "u1", Amount: decimal.NewFromInt(1), Timestamp: now,
			})
			if err != nil {
				return err
			}
			err = tx.InsertShort(ctx, &model.ShortPosition{
				ID: id, UserID: "u1", Symbol: "X", Shares: 1, OpenedShares: 1,
				Price: decimal.NewFromInt(1), OpenDate: now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithAccount: %v", err)
	}

	txs, _ := st.ListTransactions(ctx, "u1")
	events, _ := st.ListCashEvents(ctx, "u1")
	shorts, _ := st.ListOpenShorts(ctx, "u1")
	if len(txs) != 3 || len(events) != 3 || len(shorts) != 3 {
		t.Fatalf("got %d transactions, %d events, %d shorts, want 3 each", len(txs), len(events), len(shorts))
	}
	for i, id := range ids {
		if txs[i].ID != id || events[i].ID != id || shorts[i].ID != id {
			t.Errorf("row %d = %s/%s/%s, want %s", i, txs[i].ID, events[i].ID, shorts[i].ID, id)
		}
	}

	err = st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		sp, err := tx.OldestOpenShort(ctx, "X")
		if err != nil {
			return err
		}
		if sp.ID != "zz-first" {
			t.Errorf("oldest open short = %s, want zz-first", sp.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("OldestOpenShort: %v", err)
	}
}

func TestPostgresStore_WithAccountRollback(t *testing.T) {
	ctx := context.Background()
	st := NewPostgresStore(setupPostgres(t))
	st.CreateUser(ctx, newUser("u1", "alice", 100))

	boom := errors.New("boom")
	err := st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		tx.SetCash(ctx, decimal.Zero)
		tx.InsertCashEvent(ctx, &model.CashEvent{ID: "c1", UserID: "u1", Amount: decimal.NewFromInt(-100), Timestamp: time.Now()})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	u, _ := st.GetUser(ctx, "u1")
	if !u.Cash.Equal(decimal.NewFromInt(100)) {
		t.Errorf("cash = %s, want 100", u.Cash)
	}
	events, _ := st.ListCashEvents(ctx, "u1")
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestPostgresStore_WithAccountSerializes(t *testing.T) {
	ctx := context.Background()
	st := NewPostgresStore(setupPostgres(t))
	st.CreateUser(ctx, newUser("u1", "alice", 0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithAccount(ctx, "u1", func(tx AccountTx) error {
				cash, _ := tx.Cash(ctx)
				return tx.SetCash(ctx, cash.Add(decimal.NewFromInt(1)))
			})
			if err != nil {
				t.Errorf("WithAccount: %v", err)
			}
		}()
	}
	wg.Wait()

	u, _ := st.GetUser(ctx, "u1")
	if !u.Cash.Equal(decimal.NewFromInt(20)) {
		t.Errorf("cash = %s, want 20 (no lost updates)", u.Cash)
	}
}

func TestPostgresStore_ShortsAndOptions(t *testing.T) {
	ctx := context.Background()
	st := NewPostgresStore(setupPostgres(t))
	st.CreateUser(ctx, newUser("u1", "alice", 1000))

	t0 := time.Now().UTC().Truncate(time.Second)
	err := st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		for i, id := range []string{"s-new", "s-old"} {
			if err := tx.InsertShort(ctx, &model.ShortPosition{
				ID: id, UserID: "u1", Symbol: "TSLA", Shares: 5, OpenedShares: 5,
				Price: decimal.NewFromInt(200), OpenDate: t0.Add(-time.Duration(i) * time.Hour),
			}); err != nil {
				return err
			}
		}
		return tx.InsertOption(ctx, &model.OptionPosition{
			ID: "o1", UserID: "u1", Symbol: "AAPL", Type: model.OptionCall,
			Strike: decimal.NewFromInt(150), Premium: decimal.RequireFromString("2.5"),
			Expiration: time.Date(2030, 1, 17, 0, 0, 0, 0, time.UTC), Contracts: 1, OpenedAt: t0,
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		sp, err := tx.OldestOpenShort(ctx, "TSLA")
		if err != nil {
			return err
		}
		if sp.ID != "s-old" {
			t.Errorf("oldest = %s, want s-old", sp.ID)
		}
		closed := t0
		sp.Shares, sp.Closed, sp.CloseDate = 0, true, &closed
		if err := tx.UpdateShort(ctx, sp); err != nil {
			return err
		}
		return tx.InsertShortCover(ctx, &model.ShortCover{
			ID: "c1", ShortID: sp.ID, UserID: "u1", Symbol: "TSLA", Shares: 5,
			Price: decimal.NewFromInt(180), Timestamp: t0,
		})
	})
	if err != nil {
		t.Fatalf("cover: %v", err)
	}

	open, _ := st.ListOpenShorts(ctx, "u1")
	if len(open) != 1 || open[0].ID != "s-new" {
		t.Errorf("open shorts = %+v, want only s-new", open)
	}
	all, _ := st.ListShorts(ctx, "u1")
	if len(all) != 2 {
		t.Errorf("all shorts = %d, want 2", len(all))
	}
	covers, _ := st.ListShortCovers(ctx, "u1")
	if len(covers) != 1 {
		t.Errorf("covers = %d, want 1", len(covers))
	}
	opts, _ := st.ListOpenOptions(ctx, "u1")
	if len(opts) != 1 || opts[0].Expiration.Format("2006-01-02") != "2030-01-17" {
		t.Errorf("options = %+v, want one expiring 2030-01-17", opts)
	}
}

func TestCachedStore_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	primary := NewPostgresStore(setupPostgres(t))
	rdb := setupRedis(t)
	st := NewCachedStore(primary, rdb, time.Minute)

	st.CreateUser(ctx, newUser("u1", "alice", 1000))

	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if n, _ := rdb.Exists(ctx, userKey("u1")).Result(); n != 1 {
		t.Fatal("expected user to be cached after first read")
	}

	cached, _ := st.GetUser(ctx, "u1")
	if cached.PasswordHash != u.PasswordHash {
		t.Errorf("cached hash = %q, want %q", cached.PasswordHash, u.PasswordHash)
	}

	st.ListTransactions(ctx, "u1")
	err = st.WithAccount(ctx, "u1", func(tx AccountTx) error {
		return tx.SetCash(ctx, decimal.NewFromInt(1))
	})
	if err != nil {
		t.Fatalf("WithAccount: %v", err)
	}

	if n, _ := rdb.Exists(ctx, userKey("u1"), transactionsKey("u1")).Result(); n != 0 {
		t.Errorf("expected cache invalidated, %d keys remain", n)
	}
	fresh, _ := st.GetUser(ctx, "u1")
	if !fresh.Cash.Equal(decimal.NewFromInt(1)) {
		t.Errorf("cash = %s, want 1", fresh.Cash)
	}
}
