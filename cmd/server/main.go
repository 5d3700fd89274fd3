package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/stocktrak/stocktrak/internal/auth"
	"github.com/stocktrak/stocktrak/internal/config"
	"github.com/stocktrak/stocktrak/internal/ledger"
	"github.com/stocktrak/stocktrak/internal/market"
	"github.com/stocktrak/stocktrak/internal/metrics"
	"github.com/stocktrak/stocktrak/internal/quote"
	"github.com/stocktrak/stocktrak/internal/store"
	"github.com/stocktrak/stocktrak/internal/trade"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	var rdb *redis.Client

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := store.OpenPool(ctx, store.DefaultDBConfig(cfg.DatabaseURL))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		slog.Info("connected to PostgreSQL")

		if cfg.MigrateOnStart {
			n, err := store.NewMigrator(pool, logger).ApplyAll(ctx)
			if err != nil {
				slog.Error("migration failed", "err", err)
				os.Exit(1)
			}
			slog.Info("migrations applied", "count", n)
		}

		st = store.NewPostgresStore(pool)

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Sessions ---
	var sessions auth.SessionStore
	if rdb != nil {
		sessions = auth.NewRedisSessions(rdb, cfg.SessionTTL)
	} else {
		sessions = auth.NewMemorySessions(cfg.SessionTTL)
	}

	// --- Quotes ---
	var quotes quote.Gateway
	if cfg.AlphaVantageKey != "" {
		client, err := quote.NewClient(quote.ClientConfig{
			APIKey:        cfg.AlphaVantageKey,
			BaseURL:       cfg.AlphaVantageURL,
			RatePerMinute: cfg.QuoteRatePerMin,
			Logger:        logger,
		})
		if err != nil {
			slog.Error("quote client init failed", "err", err)
			os.Exit(1)
		}
		quotes = client
	} else {
		slog.Warn("ALPHAVANTAGE_API_KEY not set, every symbol lookup will fail")
		quotes = quote.NewFixed(nil)
	}

	clock := market.NewClock(cfg.MarketAlwaysOpen)
	if cfg.MarketAlwaysOpen {
		slog.Warn("market hours check disabled")
	}

	// --- Services ---
	ldg := ledger.New(st, quotes, ledger.WithLogger(logger))
	tradeSvc := trade.NewService(ldg, quotes, clock)
	authH := auth.NewHandler(st, sessions, auth.Config{
		InitialCash:  cfg.InitialCash,
		SessionTTL:   cfg.SessionTTL,
		CookieSecure: cfg.CookieSecure,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"stocktrak"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Post("/register", authH.Register)
	r.Get("/login", authH.LoginInfo)
	r.Post("/login", authH.Login)
	r.Get("/logout", authH.Logout)
	r.Post("/logout", authH.Logout)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(sessions))

		r.Get("/", tradeSvc.Portfolio)
		r.Get("/quote", tradeSvc.Quote)
		r.Post("/quote", tradeSvc.Quote)
		r.Post("/buy", tradeSvc.Buy)
		r.Post("/sell", tradeSvc.Sell)
		r.Get("/history", tradeSvc.History)
		r.Get("/cash", tradeSvc.Cash)
		r.Post("/cash", tradeSvc.Cash)
		r.Get("/short", tradeSvc.Short)
		r.Post("/short", tradeSvc.Short)
		r.Get("/options", tradeSvc.Options)
		r.Post("/options", tradeSvc.Options)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("stocktrak listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down stocktrak...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("stocktrak stopped")
}
