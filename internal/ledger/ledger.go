// Package ledger is the accounting engine. It keeps a user's cash balance
// and append-only trade, cash, short and option logs consistent: every
// mutation checks its business rule and writes the balance and the log
// entry inside one store.WithAccount unit.
//
// Share holdings are never stored; they are folded from the transaction
// log on demand. Prices are supplied by the caller, which must resolve
// them before calling in so no account is locked during a quote lookup.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/metrics"
	"github.com/stocktrak/stocktrak/internal/model"
	"github.com/stocktrak/stocktrak/internal/quote"
	"github.com/stocktrak/stocktrak/internal/store"
)

var (
	// ErrValidation wraps malformed or out-of-range input.
	ErrValidation = errors.New("ledger: invalid input")

	// ErrInsufficientFunds means the operation would take cash below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares means a sale exceeds the held shares.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrInsufficientShortPosition means there is no open short large
	// enough to cover the requested shares.
	ErrInsufficientShortPosition = errors.New("ledger: insufficient short position")
)

// Ledger applies account mutations and computes derived views.
type Ledger struct {
	store  store.Store
	quotes quote.Gateway
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source used to stamp log entries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger over st. quotes is used only by ComputePortfolio.
func New(st store.Store, quotes quote.Gateway, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		quotes: quotes,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

func (l *Ledger) stamp() time.Time {
	return l.now().UTC()
}

// RecordBuy debits price × shares and appends a BUY transaction.
func (l *Ledger) RecordBuy(ctx context.Context, userID, symbol string, shares int64, price decimal.Decimal) (_ *model.Transaction, err error) {
	defer l.observe("buy", time.Now(), &err)

	symbol = quote.Normalize(symbol)
	if err := validateTrade(symbol, shares, price); err != nil {
		return nil, err
	}

	tr := &model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    symbol,
		Shares:    shares,
		Price:     price,
		Type:      model.TypeBuy,
		Timestamp: l.stamp(),
	}
	cost := tr.Amount()

	err = l.store.WithAccount(ctx, userID, func(tx store.AccountTx) error {
		cash, err := tx.Cash(ctx)
		if err != nil {
			return err
		}
		if cost.GreaterThan(cash) {
			return ErrInsufficientFunds
		}
		if err := tx.SetCash(ctx, cash.Sub(cost)); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("buy recorded", "user", userID, "symbol", symbol, "shares", shares, "price", price.String())
	return tr, nil
}

// RecordSell credits price × shares and appends a SELL transaction, provided
// the held shares cover the sale.
func (l *Ledger) RecordSell(ctx context.Context, userID, symbol string, shares int64, price decimal.Decimal) (_ *model.Transaction, err error) {
	defer l.observe("sell", time.Now(), &err)

	symbol = quote.Normalize(symbol)
	if err := validateTrade(symbol, shares, price); err != nil {
		return nil, err
	}

	tr := &model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    symbol,
		Shares:    shares,
		Price:     price,
		Type:      model.TypeSell,
		Timestamp: l.stamp(),
	}

	err = l.store.WithAccount(ctx, userID, func(tx store.AccountTx) error {
		txs, err := tx.SymbolTransactions(ctx, symbol)
		if err != nil {
			return err
		}
		if shares > HeldShares(txs, symbol) {
			return ErrInsufficientShares
		}
		cash, err := tx.Cash(ctx)
		if err != nil {
			return err
		}
		next := cash.Add(tr.Amount())
		if err := checkAmount("balance", next); err != nil {
			return err
		}
		if err := tx.SetCash(ctx, next); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, tr)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("sell recorded", "user", userID, "symbol", symbol, "shares", shares, "price", price.String())
	return tr, nil
}

// AdjustCash deposits (amount > 0) or withdraws (amount < 0) cash and
// appends a CashEvent. Zero is accepted and recorded.
func (l *Ledger) AdjustCash(ctx context.Context, userID string, amount decimal.Decimal) (_ *model.CashEvent, err error) {
	defer l.observe("cash", time.Now(), &err)

	if err := checkAmount("amount", amount); err != nil {
		return nil, err
	}

	ev := &model.CashEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Timestamp: l.stamp(),
	}

	err = l.store.WithAccount(ctx, userID, func(tx store.AccountTx) error {
		cash, err := tx.Cash(ctx)
		if err != nil {
			return err
		}
		next := cash.Add(amount)
		if next.IsNegative() {
			return ErrInsufficientFunds
		}
		if err := checkAmount("balance", next); err != nil {
			return err
		}
		if err := tx.SetCash(ctx, next); err != nil {
			return err
		}
		return tx.InsertCashEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("cash adjusted", "user", userID, "amount", amount.String())
	return ev, nil
}

// OpenShort credits the short-sale proceeds and opens a ShortPosition.
// There is no borrow-availability check.
func (l *Ledger) OpenShort(ctx context.Context, userID, symbol string, shares int64, price decimal.Decimal) (_ *model.ShortPosition, err error) {
	defer l.observe("short_sell", time.Now(), &err)

	symbol = quote.Normalize(symbol)
	if err := validateTrade(symbol, shares, price); err != nil {
		return nil, err
	}

	sp := &model.ShortPosition{
		ID:           uuid.New().String(),
		UserID:       userID,
		Symbol:       symbol,
		Shares:       shares,
		OpenedShares: shares,
		Price:        price,
		OpenDate:     l.stamp(),
	}
	proceeds := price.Mul(decimal.NewFromInt(shares))

	err = l.store.WithAccount(ctx, userID, func(tx store.AccountTx) error {
		cash, err := tx.Cash(ctx)
		if err != nil {
			return err
		}
		next := cash.Add(proceeds)
		if err := checkAmount("balance", next); err != nil {
			return err
		}
		if err := tx.SetCash(ctx, next); err != nil {
			return err
		}
		return tx.InsertShort(ctx, sp)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("short opened", "user", userID, "symbol", symbol, "shares", shares, "price", price.String())
	return sp, nil
}

// CoverShort buys back shares against the single oldest open short in
// symbol. Covering the full remainder closes the position; covering less
// decrements it in place. Coverage never spans more than one position.
func (l *Ledger) CoverShort(ctx context.Context, userID, symbol string, shares int64, price decimal.Decimal) (_ *model.ShortCover, err error) {
	defer l.observe("short_buy", time.Now(), &err)

	symbol = quote.Normalize(symbol)
	if err := validateTrade(symbol, shares, price); err != nil {
		return nil, err
	}

	now := l.stamp()
	cost := price.Mul(decimal.NewFromInt(shares))
	var cover *model.ShortCover

	err = l.store.WithAccount(ctx, userID, func(tx store.AccountTx) error {
		sp, err := tx.OldestOpenShort(ctx, symbol)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInsufficientShortPosition
		}
		if err != nil {
			return err
		}
		if sp.Shares < shares {
			return ErrInsufficientShortPosition
		}

		cash, err := tx.Cash(ctx)
		if err != nil {
			return err
		}
		if cost.GreaterThan(cash) {
			return ErrInsufficientFunds
		}
		if err := tx.SetCash(ctx, cash.Sub(cost)); err != nil {
			return err
		}

		sp.Shares -= shares
		if sp.Shares == 0 {
			sp.Closed = true
			sp.CloseDate = &now
		}
		if err := tx.UpdateShort(ctx, sp); err != nil {
			return err
		}

		cover = &model.ShortCover{
			ID:        uuid.New().String(),
			ShortID:   sp.ID,
			UserID:    userID,
			Symbol:    symbol,
			Shares:    shares,
			Price:     price,
			Timestamp: now,
		}
		return tx.InsertShortCover(ctx, cover)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("short covered", "user", userID, "symbol", symbol, "shares", shares, "price", price.String(), "short_id", cover.ShortID)
	return cover, nil
}

// OptionOrder describes an option entry.
type OptionOrder struct {
	Symbol     string
	Type       string
	Strike     decimal.Decimal
	Premium    decimal.Decimal
	Expiration time.Time
	Contracts  int64
}

// OpenOption validates and records an option position. It has no cash
// effect and nothing ever closes it.
func (l *Ledger) OpenOption(ctx context.Context, userID string, order OptionOrder) (_ *model.OptionPosition, err error) {
	defer l.observe("option", time.Now(), &err)

	symbol := quote.Normalize(order.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrValidation)
	}
	if order.Type != model.OptionCall && order.Type != model.OptionPut {
		return nil, fmt.Errorf("%w: option type must be CALL or PUT", ErrValidation)
	}
	if !order.Strike.IsPositive() || order.Premium.IsNegative() || order.Contracts <= 0 {
		return nil, fmt.Errorf("%w: strike > 0, premium >= 0 and contracts > 0 required", ErrValidation)
	}
	if err := checkAmount("strike", order.Strike); err != nil {
		return nil, err
	}
	if err := checkAmount("premium", order.Premium); err != nil {
		return nil, err
	}
	if order.Expiration.IsZero() {
		return nil, fmt.Errorf("%w: expiration required", ErrValidation)
	}

	op := &model.OptionPosition{
		ID:         uuid.New().String(),
		UserID:     userID,
		Symbol:     symbol,
		Type:       order.Type,
		Strike:     order.Strike,
		Premium:    order.Premium,
		Expiration: order.Expiration,
		Contracts:  order.Contracts,
		OpenedAt:   l.stamp(),
	}

	err = l.store.WithAccount(ctx, userID, func(tx store.AccountTx) error {
		return tx.InsertOption(ctx, op)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("option opened", "user", userID, "symbol", symbol, "type", op.Type, "contracts", op.Contracts)
	return op, nil
}

func validateTrade(symbol string, shares int64, price decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrValidation)
	}
	if shares <= 0 {
		return fmt.Errorf("%w: shares must be a positive integer", ErrValidation)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if err := checkAmount("price", price); err != nil {
		return err
	}
	return checkAmount("trade total", price.Mul(decimal.NewFromInt(shares)))
}

// MaxAmount is the exclusive bound on any stored amount or balance. Money
// columns are NUMERIC(20, 4).
var MaxAmount = decimal.New(1, 16)

func checkAmount(what string, v decimal.Decimal) error {
	if v.Abs().GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: %s out of range", ErrValidation, what)
	}
	return nil
}

// IsRejection reports whether err is a business or validation rejection
// rather than an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrInsufficientShortPosition)
}

func (l *Ledger) observe(op string, start time.Time, errp *error) {
	outcome := "ok"
	switch {
	case *errp == nil:
	case IsRejection(*errp):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	metrics.ObserveLedgerOp(op, outcome, start)
}
