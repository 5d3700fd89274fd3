// Package quote looks up stock prices. The production gateway talks to
// Alpha Vantage; Fixed serves static prices for tests and offline use.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/model"
)

// ErrUnavailable means no usable price could be obtained for a symbol:
// network failure, malformed payload, or an empty or zero price.
var ErrUnavailable = errors.New("quote: unavailable")

// Gateway resolves a ticker symbol to a current quote.
type Gateway interface {
	Lookup(ctx context.Context, symbol string) (*model.Quote, error)
}

// Normalize trims and upper-cases a ticker symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Fixed is a Gateway backed by a static price table. Safe for concurrent use.
type Fixed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewFixed returns a Fixed gateway seeded with prices keyed by symbol.
func NewFixed(prices map[string]decimal.Decimal) *Fixed {
	f := &Fixed{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		f.prices[Normalize(sym)] = p
	}
	return f
}

// Set changes or adds the price for symbol.
func (f *Fixed) Set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[Normalize(symbol)] = price
}

// Remove makes symbol unavailable.
func (f *Fixed) Remove(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, Normalize(symbol))
}

func (f *Fixed) Lookup(_ context.Context, symbol string) (*model.Quote, error) {
	sym := Normalize(symbol)

	f.mu.RLock()
	price, ok := f.prices[sym]
	f.mu.RUnlock()

	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, sym)
	}
	return &model.Quote{
		Symbol:    sym,
		Name:      sym,
		Price:     price,
		Open:      price,
		High:      price,
		Low:       price,
		PrevClose: price,
	}, nil
}
