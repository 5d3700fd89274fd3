package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/model"
)

// ComputePortfolio marks every held symbol to a live quote. A failed lookup
// degrades that row to price 0 with the symbol as its name. Lookups happen
// without any account lock held.
func (l *Ledger) ComputePortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	txs, err := l.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	holdings := Holdings(txs)
	rows := make([]model.PortfolioRow, 0, len(holdings))
	total := user.Cash

	for _, h := range holdings {
		row := model.PortfolioRow{Symbol: h.Symbol, Name: h.Symbol, Shares: h.Shares, Price: decimal.Zero}
		q, err := l.quotes.Lookup(ctx, h.Symbol)
		if err != nil {
			l.logger.Warn("portfolio quote unavailable", "user", userID, "symbol", h.Symbol, "err", err)
		} else {
			row.Name = q.Name
			row.Price = q.Price
		}
		row.Total = row.Price.Mul(decimal.NewFromInt(h.Shares))
		total = total.Add(row.Total)
		rows = append(rows, row)
	}

	return &model.Portfolio{
		UserID:    userID,
		Positions: rows,
		Cash:      user.Cash,
		Total:     total,
	}, nil
}

// ComputeHistory returns one page of merged trade and cash history,
// newest first. page is clamped to [1, MaxPage].
func (l *Ledger) ComputeHistory(ctx context.Context, userID string, page int) (*model.HistoryPage, error) {
	txs, err := l.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	events, err := l.store.ListCashEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cash events: %w", err)
	}

	entries := mergeHistory(txs, events)
	page, maxPage, start, end := Paginate(len(entries), page, HistoryPageSize)

	return &model.HistoryPage{
		Entries: entries[start:end],
		Page:    page,
		MaxPage: maxPage,
	}, nil
}

// OpenShorts lists the user's open short positions, oldest first.
func (l *Ledger) OpenShorts(ctx context.Context, userID string) ([]model.ShortPosition, error) {
	shorts, err := l.store.ListOpenShorts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if shorts == nil {
		shorts = []model.ShortPosition{}
	}
	return shorts, nil
}

// OpenOptions lists the user's open option positions, oldest first.
func (l *Ledger) OpenOptions(ctx context.Context, userID string) ([]model.OptionPosition, error) {
	opts, err := l.store.ListOpenOptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = []model.OptionPosition{}
	}
	return opts, nil
}

// Cash returns the user's current balance.
func (l *Ledger) Cash(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Cash, nil
}

// HeldShares returns the user's current net shares in symbol. It reads
// without locking; RecordSell re-checks inside its unit.
func (l *Ledger) HeldShares(ctx context.Context, userID, symbol string) (int64, error) {
	txs, err := l.store.ListTransactions(ctx, userID)
	if err != nil {
		return 0, err
	}
	return HeldShares(txs, symbol), nil
}
