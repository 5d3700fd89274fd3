package ledger

import (
	"sort"

	"github.com/stocktrak/stocktrak/internal/model"
)

// HistoryPageSize is the fixed number of entries per history page.
const HistoryPageSize = 15

// HeldShares folds the log into the net share count for symbol:
// Σ BUY shares − Σ SELL shares.
func HeldShares(txs []model.Transaction, symbol string) int64 {
	var held int64
	for _, t := range txs {
		if t.Symbol == symbol {
			held += t.SignedShares()
		}
	}
	return held
}

// Holdings folds the log into per-symbol share counts, keeping only symbols
// with a positive balance, sorted by symbol.
func Holdings(txs []model.Transaction) []model.Holding {
	agg := make(map[string]int64)
	for _, t := range txs {
		agg[t.Symbol] += t.SignedShares()
	}

	holdings := make([]model.Holding, 0, len(agg))
	for sym, shares := range agg {
		if shares > 0 {
			holdings = append(holdings, model.Holding{Symbol: sym, Shares: shares})
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings
}

// Paginate clamps page into [1, maxPage] and returns the clamped page, the
// max page and the [start, end) slice bounds for total items.
// maxPage is ceil(total/size) with a floor of 1.
func Paginate(total, page, size int) (clamped, maxPage, start, end int) {
	maxPage = (total + size - 1) / size
	if maxPage < 1 {
		maxPage = 1
	}
	clamped = page
	if clamped < 1 {
		clamped = 1
	}
	if clamped > maxPage {
		clamped = maxPage
	}
	start = (clamped - 1) * size
	end = start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return clamped, maxPage, start, end
}

// mergeHistory interleaves trades and cash events newest first. Entries
// with equal timestamps keep trades ahead of cash events, each in log order.
func mergeHistory(txs []model.Transaction, events []model.CashEvent) []model.HistoryEntry {
	entries := make([]model.HistoryEntry, 0, len(txs)+len(events))
	for _, t := range txs {
		price := t.Price
		entries = append(entries, model.HistoryEntry{
			Timestamp: t.Timestamp,
			Type:      t.Type,
			Symbol:    t.Symbol,
			Shares:    t.Shares,
			Price:     &price,
		})
	}
	for _, e := range events {
		amount := e.Amount
		entries = append(entries, model.HistoryEntry{
			Timestamp:  e.Timestamp,
			Type:       model.TypeCash,
			CashChange: &amount,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries
}
