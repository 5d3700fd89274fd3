// Package model defines the core domain types shared across StockTrak.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade types recorded in the transaction log.
const (
	TypeBuy  = "BUY"
	TypeSell = "SELL"
	TypeCash = "CASH" // history-only marker for cash events
)

// Option contract types.
const (
	OptionCall = "CALL"
	OptionPut  = "PUT"
)

// User is an account. Cash is the only mutable balance; share holdings are
// always derived from the transaction log.
type User struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	PasswordHash string          `json:"-" db:"hash"`
	Cash         decimal.Decimal `json:"cash" db:"cash"`
	InitialCash  decimal.Decimal `json:"initial_cash" db:"initial_cash"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an immutable stock trade record.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Shares    int64           `json:"shares" db:"shares"` // always > 0; Type carries the sign
	Price     decimal.Decimal `json:"price" db:"price"`
	Type      string          `json:"type" db:"type"` // "BUY" or "SELL"
	Timestamp time.Time       `json:"timestamp" db:"date"`
}

// SignedShares returns +Shares for a BUY and -Shares for a SELL.
func (t Transaction) SignedShares() int64 {
	if t.Type == TypeSell {
		return -t.Shares
	}
	return t.Shares
}

// Amount returns the cash value of the trade: price × shares.
func (t Transaction) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares))
}

// CashEvent is an immutable manual deposit (positive) or withdrawal (negative).
type CashEvent struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Timestamp time.Time       `json:"timestamp" db:"date"`
}

// ShortPosition is a liability opened by a short sale. Shares is the amount
// still open; OpenedShares keeps the size at open time.
type ShortPosition struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Shares       int64           `json:"shares" db:"shares"`
	OpenedShares int64           `json:"opened_shares" db:"opened_shares"`
	Price        decimal.Decimal `json:"price" db:"price"`
	OpenDate     time.Time       `json:"open_date" db:"open_date"`
	Closed       bool            `json:"closed" db:"closed"`
	CloseDate    *time.Time      `json:"close_date,omitempty" db:"close_date"`
}

// ShortCover is an immutable record of one buy-back against a short position.
type ShortCover struct {
	ID        string          `json:"id" db:"id"`
	ShortID   string          `json:"short_id" db:"short_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Shares    int64           `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"date"`
}

// OptionPosition records an option entry. Nothing closes it and it has no
// cash effect.
type OptionPosition struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Type       string          `json:"type" db:"type"` // "CALL" or "PUT"
	Strike     decimal.Decimal `json:"strike" db:"strike"`
	Premium    decimal.Decimal `json:"premium" db:"premium"`
	Expiration time.Time       `json:"expiration" db:"expiration"`
	Contracts  int64           `json:"contracts" db:"contracts"`
	Closed     bool            `json:"closed" db:"closed"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
}

// Holding is the aggregate share count for one symbol, folded from the log.
type Holding struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}

// Quote is a snapshot of a ticker's current and recent price data.
// Week52High/Low and the chart series are optional enrichment.
type Quote struct {
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name"`
	Price       decimal.Decimal   `json:"price"`
	Open        decimal.Decimal   `json:"open"`
	High        decimal.Decimal   `json:"high"`
	Low         decimal.Decimal   `json:"low"`
	Volume      int64             `json:"volume"`
	PrevClose   decimal.Decimal   `json:"prev_close"`
	Week52High  *decimal.Decimal  `json:"week52_high,omitempty"`
	Week52Low   *decimal.Decimal  `json:"week52_low,omitempty"`
	ChartDates  []string          `json:"chart_dates,omitempty"`
	ChartCloses []decimal.Decimal `json:"chart_closes,omitempty"`
}

// PortfolioRow is one held symbol marked to the latest quote.
type PortfolioRow struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Total  decimal.Decimal `json:"total"` // price × shares
}

// Portfolio is the account overview: positions, cash and total value.
type Portfolio struct {
	UserID    string          `json:"user_id"`
	Positions []PortfolioRow  `json:"positions"`
	Cash      decimal.Decimal `json:"cash"`
	Total     decimal.Decimal `json:"total"` // cash + Σ position totals
}

// HistoryEntry is one row of the merged trade/cash history. Trade rows carry
// Symbol, Shares and Price; cash rows carry CashChange.
type HistoryEntry struct {
	Timestamp  time.Time        `json:"date"`
	Type       string           `json:"type"` // BUY, SELL or CASH
	Symbol     string           `json:"symbol,omitempty"`
	Shares     int64            `json:"shares,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	CashChange *decimal.Decimal `json:"cash_change,omitempty"`
}

// HistoryPage is one page of history plus pagination state.
type HistoryPage struct {
	Entries []HistoryEntry `json:"history"`
	Page    int            `json:"page"`
	MaxPage int            `json:"max_page"`
}
