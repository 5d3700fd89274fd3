// Command stocktrak is the administrative CLI: schema migrations, ledger
// audits and account creation against the configured database.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/stocktrak/stocktrak/internal/config"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&migrateCmd{cfg: cfg}, "database")
	commander.Register(&auditCmd{cfg: cfg}, "accounts")
	commander.Register(&addUserCmd{cfg: cfg}, "accounts")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
