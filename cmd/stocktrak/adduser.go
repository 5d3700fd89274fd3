package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/auth"
	"github.com/stocktrak/stocktrak/internal/config"
	"github.com/stocktrak/stocktrak/internal/ledger"
	"github.com/stocktrak/stocktrak/internal/store"
)

type addUserCmd struct {
	cfg      config.Config
	username string
	password string
	cash     string
}

func (*addUserCmd) Name() string     { return "adduser" }
func (*addUserCmd) Synopsis() string { return "create an account" }
func (*addUserCmd) Usage() string {
	return `adduser -username <name> -password <password> [-cash <amount>]

  Creates an account funded with INITIAL_CASH, or -cash when given.
`
}

func (c *addUserCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "username", "", "Account username (required)")
	f.StringVar(&c.password, "password", "", "Account password (required)")
	f.StringVar(&c.cash, "cash", "", "Starting cash, defaults to INITIAL_CASH")
}

func (c *addUserCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	username, cash, err := c.parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	pool, err := openPool(ctx, c.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer pool.Close()

	u, err := auth.CreateUser(ctx, store.NewPostgresStore(pool), username, c.password, cash)
	if errors.Is(err, store.ErrUsernameTaken) {
		fmt.Fprintf(os.Stderr, "Error: username %q already exists\n", username)
		return subcommands.ExitFailure
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating user: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("created %s (%s) with %s\n", u.Username, u.ID, cash.StringFixed(2))
	return subcommands.ExitSuccess
}

// parse validates the flags and resolves the starting cash.
func (c *addUserCmd) parse() (string, decimal.Decimal, error) {
	username := strings.TrimSpace(c.username)
	if username == "" || c.password == "" {
		return "", decimal.Zero, errors.New("-username and -password are required")
	}
	if len(c.password) > auth.MaxPasswordBytes {
		return "", decimal.Zero, fmt.Errorf("password too long (max %d bytes)", auth.MaxPasswordBytes)
	}

	cash := c.cfg.InitialCash
	if c.cash != "" {
		v, err := decimal.NewFromString(c.cash)
		if err != nil || v.IsNegative() {
			return "", decimal.Zero, fmt.Errorf("invalid -cash %q", c.cash)
		}
		cash = v
	}
	if cash.GreaterThanOrEqual(ledger.MaxAmount) {
		return "", decimal.Zero, fmt.Errorf("-cash must be below %s", ledger.MaxAmount)
	}
	return username, cash, nil
}
