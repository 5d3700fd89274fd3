package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/subcommands"

	"github.com/stocktrak/stocktrak/internal/config"
	"github.com/stocktrak/stocktrak/internal/store"
)

type migrateCmd struct {
	cfg config.Config
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply pending schema migrations" }
func (*migrateCmd) Usage() string {
	return `migrate

  Applies the embedded SQL migrations to DATABASE_URL. Already applied
  files are skipped; a file whose checksum changed is an error.
`
}

func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pool, err := openPool(ctx, c.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer pool.Close()

	n, err := store.NewMigrator(pool, slog.Default()).ApplyAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%d migration(s) applied\n", n)
	return subcommands.ExitSuccess
}
