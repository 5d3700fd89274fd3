package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// AuditReport compares a user's stored cash with the balance replayed from
// the logs.
type AuditReport struct {
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	Stored     decimal.Decimal `json:"stored"`
	Replayed   decimal.Decimal `json:"replayed"`
	Consistent bool            `json:"consistent"`

	// NegativeHoldings lists symbols whose folded share count is below zero.
	NegativeHoldings []string `json:"negative_holdings,omitempty"`
}

// Audit replays initial cash, cash events, trades, short openings and short
// covers and checks the result against the stored balance.
func (l *Ledger) Audit(ctx context.Context, userID string) (*AuditReport, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	txs, err := l.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := l.store.ListCashEvents(ctx, userID)
	if err != nil {
		return nil, err
	}
	shorts, err := l.store.ListShorts(ctx, userID)
	if err != nil {
		return nil, err
	}
	covers, err := l.store.ListShortCovers(ctx, userID)
	if err != nil {
		return nil, err
	}

	cash := user.InitialCash
	for _, e := range events {
		cash = cash.Add(e.Amount)
	}
	for _, t := range txs {
		if t.SignedShares() > 0 {
			cash = cash.Sub(t.Amount())
		} else {
			cash = cash.Add(t.Amount())
		}
	}
	for _, s := range shorts {
		cash = cash.Add(s.Price.Mul(decimal.NewFromInt(s.OpenedShares)))
	}
	for _, c := range covers {
		cash = cash.Sub(c.Price.Mul(decimal.NewFromInt(c.Shares)))
	}

	report := &AuditReport{
		UserID:     user.ID,
		Username:   user.Username,
		Stored:     user.Cash,
		Replayed:   cash,
		Consistent: cash.Equal(user.Cash),
	}

	agg := make(map[string]int64)
	for _, t := range txs {
		agg[t.Symbol] += t.SignedShares()
	}
	for sym, n := range agg {
		if n < 0 {
			report.NegativeHoldings = append(report.NegativeHoldings, sym)
			report.Consistent = false
		}
	}

	sort.Strings(report.NegativeHoldings)

	if !report.Consistent {
		l.logger.Warn("audit mismatch", "user", userID, "stored", user.Cash.String(), "replayed", cash.String())
	}
	return report, nil
}
