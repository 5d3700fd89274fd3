package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktrak/stocktrak/internal/config"
	"github.com/stocktrak/stocktrak/internal/store"
)

var errNoDatabase = errors.New("DATABASE_URL is not set")

func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	dbCfg := store.DefaultDBConfig(cfg.DatabaseURL)
	dbCfg.MaxConns = 4
	dbCfg.MinConns = 1
	return store.OpenPool(ctx, dbCfg)
}
