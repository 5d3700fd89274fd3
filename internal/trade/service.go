// Package trade provides the HTTP handlers for quoting, trading, cash
// management, shorts, options, portfolio and history.
//
// Handlers resolve prices through the quote gateway before calling the
// ledger, so no account is locked while waiting on the network.
package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/auth"
	"github.com/stocktrak/stocktrak/internal/ledger"
	"github.com/stocktrak/stocktrak/internal/market"
	"github.com/stocktrak/stocktrak/internal/metrics"
	"github.com/stocktrak/stocktrak/internal/model"
	"github.com/stocktrak/stocktrak/internal/quote"
	"github.com/stocktrak/stocktrak/internal/store"
)

const (
	msgMarketClosed        = "Trading is only allowed during US market hours (9:30am-4:00pm ET, Mon-Fri)"
	msgOptionsMarketClosed = "Options trading is only allowed during US market hours (9:30am-4:00pm ET, Mon-Fri)"
	msgSymbolAndShares     = "must provide symbol and shares"
	msgPositiveShares      = "shares must be a positive integer"
	msgInvalidSymbol       = "invalid symbol"
)

// Short form actions.
const (
	ActionShortSell = "short_sell"
	ActionShortBuy  = "short_buy"
)

// Service handles account requests for the authenticated user.
type Service struct {
	ledger *ledger.Ledger
	quotes quote.Gateway
	clock  *market.Clock
}

// NewService creates a new trade service.
func NewService(l *ledger.Ledger, quotes quote.Gateway, clock *market.Clock) *Service {
	return &Service{
		ledger: l,
		quotes: quotes,
		clock:  clock,
	}
}

// --- Response types ---

// MessageResponse is the body of a successful mutation.
type MessageResponse struct {
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
}

// CashResponse is the body of GET/POST /cash.
type CashResponse struct {
	Cash    decimal.Decimal `json:"cash"`
	Message string          `json:"message,omitempty"`
}

// ShortsResponse is the body of GET/POST /short.
type ShortsResponse struct {
	Shorts  []model.ShortPosition `json:"shorts"`
	Message string                `json:"message,omitempty"`
}

// OptionsResponse is the body of GET/POST /options.
type OptionsResponse struct {
	Options []model.OptionPosition `json:"options"`
	Message string                 `json:"message,omitempty"`
}

// QuoteResponse is the body of GET/POST /quote.
type QuoteResponse struct {
	Quote *model.Quote `json:"quote"`
}

// --- HTTP Handlers ---

// Portfolio handles GET /
func (s *Service) Portfolio(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	p, err := s.ledger.ComputePortfolio(r.Context(), userID)
	if err != nil {
		s.writeLedgerError(w, r, "portfolio", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Quote handles GET/POST /quote. A GET without a symbol returns an empty quote.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := quote.Normalize(r.FormValue("symbol"))
	if symbol == "" {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, QuoteResponse{})
			return
		}
		writeError(w, "Must provide symbol.", http.StatusBadRequest)
		return
	}

	q, err := s.quotes.Lookup(r.Context(), symbol)
	if err != nil {
		writeError(w, "Invalid symbol: "+symbol, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Quote: q})
}

// Buy handles POST /buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	if !s.marketOpen(w, "buy", msgMarketClosed) {
		return
	}
	symbol, shares, ok := parseSymbolShares(w, r)
	if !ok {
		return
	}

	price, ok := s.price(w, r, symbol)
	if !ok {
		return
	}

	userID := auth.UserID(r.Context())
	tr, err := s.ledger.RecordBuy(r.Context(), userID, symbol, shares, price)
	if err != nil {
		s.writeLedgerError(w, r, "buy", err, map[error]string{ledger.ErrInsufficientFunds: "not enough cash"})
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Bought %d shares of %s!", shares, symbol),
		Result:  tr,
	})
}

// Sell handles POST /sell. Holdings are checked before the quote lookup.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	if !s.marketOpen(w, "sell", msgMarketClosed) {
		return
	}
	symbol, shares, ok := parseSymbolShares(w, r)
	if !ok {
		return
	}

	userID := auth.UserID(r.Context())
	rejections := map[error]string{ledger.ErrInsufficientShares: "not enough shares to sell"}

	held, err := s.ledger.HeldShares(r.Context(), userID, symbol)
	if err != nil {
		s.writeLedgerError(w, r, "sell", err, nil)
		return
	}
	if shares > held {
		s.writeLedgerError(w, r, "sell", ledger.ErrInsufficientShares, rejections)
		return
	}

	price, ok := s.price(w, r, symbol)
	if !ok {
		return
	}

	tr, err := s.ledger.RecordSell(r.Context(), userID, symbol, shares, price)
	if err != nil {
		s.writeLedgerError(w, r, "sell", err, rejections)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Sold %d shares of %s!", shares, symbol),
		Result:  tr,
	})
}

// History handles GET /history?page=N
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		page = 1
	}

	h, err := s.ledger.ComputeHistory(r.Context(), auth.UserID(r.Context()), page)
	if err != nil {
		s.writeLedgerError(w, r, "history", err, nil)
		return
	}
	if h.Entries == nil {
		h.Entries = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, h)
}

// Cash handles GET/POST /cash. POST adjusts the balance by amount.
func (s *Service) Cash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	var message string
	if r.Method == http.MethodPost {
		amount, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("amount")))
		if err != nil {
			writeError(w, "invalid amount", http.StatusBadRequest)
			return
		}

		if _, err := s.ledger.AdjustCash(ctx, userID, amount); err != nil {
			s.writeLedgerError(w, r, "cash", err, map[error]string{
				ledger.ErrInsufficientFunds: "not enough cash to subtract",
				ledger.ErrValidation:        "invalid amount",
			})
			return
		}

		verb := "Added"
		if amount.IsNegative() {
			verb = "Subtracted"
		}
		message = fmt.Sprintf("%s %s to your account.", verb, model.USD(amount.Abs()))
	}

	cash, err := s.ledger.Cash(ctx, userID)
	if err != nil {
		s.writeLedgerError(w, r, "cash", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, CashResponse{Cash: cash, Message: message})
}

// Short handles GET/POST /short. POST performs action short_sell or
// short_buy at the current quote. Shorts are not gated on market hours.
func (s *Service) Short(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	var message string
	if r.Method == http.MethodPost {
		action := r.FormValue("action")
		symbol, shares, ok := parseSymbolShares(w, r)
		if !ok {
			return
		}
		if action != ActionShortSell && action != ActionShortBuy {
			writeError(w, "invalid action", http.StatusBadRequest)
			return
		}

		price, ok := s.price(w, r, symbol)
		if !ok {
			return
		}

		switch action {
		case ActionShortSell:
			if _, err := s.ledger.OpenShort(ctx, userID, symbol, shares, price); err != nil {
				s.writeLedgerError(w, r, "short_sell", err, nil)
				return
			}
			message = fmt.Sprintf("Short sold %d shares of %s at %s.", shares, symbol, model.USD(price))
		case ActionShortBuy:
			_, err := s.ledger.CoverShort(ctx, userID, symbol, shares, price)
			if err != nil {
				s.writeLedgerError(w, r, "short_buy", err, map[error]string{
					ledger.ErrInsufficientShortPosition: "not enough shorted shares to buy back",
					ledger.ErrInsufficientFunds:         "not enough cash to buy back shares",
				})
				return
			}
			message = fmt.Sprintf("Bought back %d shares of %s at %s.", shares, symbol, model.USD(price))
		}
	}

	shorts, err := s.ledger.OpenShorts(ctx, userID)
	if err != nil {
		s.writeLedgerError(w, r, "short", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ShortsResponse{Shorts: shorts, Message: message})
}

// Options handles GET/POST /options. POST records an option position and
// is gated on market hours.
func (s *Service) Options(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	var message string
	if r.Method == http.MethodPost {
		if !s.marketOpen(w, "option", msgOptionsMarketClosed) {
			return
		}

		order, expiration, ok := parseOptionOrder(w, r)
		if !ok {
			return
		}

		op, err := s.ledger.OpenOption(ctx, userID, order)
		if err != nil {
			s.writeLedgerError(w, r, "option", err, map[error]string{ledger.ErrValidation: "invalid strike, premium, or contracts"})
			return
		}
		message = fmt.Sprintf("Bought %d %s option(s) for %s at strike %s (premium %s) expiring %s",
			op.Contracts, op.Type, op.Symbol, model.USD(op.Strike), model.USD(op.Premium), expiration)
	}

	opts, err := s.ledger.OpenOptions(ctx, userID)
	if err != nil {
		s.writeLedgerError(w, r, "options", err, nil)
		return
	}
	writeJSON(w, http.StatusOK, OptionsResponse{Options: opts, Message: message})
}

// --- Helpers ---

func (s *Service) marketOpen(w http.ResponseWriter, op, message string) bool {
	if err := s.clock.Check(); err != nil {
		metrics.MarketClosedRejections.WithLabelValues(op).Inc()
		writeError(w, message, http.StatusBadRequest)
		return false
	}
	return true
}

// price resolves symbol to a positive price or writes "invalid symbol".
func (s *Service) price(w http.ResponseWriter, r *http.Request, symbol string) (decimal.Decimal, bool) {
	q, err := s.quotes.Lookup(r.Context(), symbol)
	if err != nil || !q.Price.IsPositive() {
		writeError(w, msgInvalidSymbol, http.StatusBadRequest)
		return decimal.Zero, false
	}
	return q.Price, true
}

func parseSymbolShares(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	symbol := quote.Normalize(r.FormValue("symbol"))
	raw := strings.TrimSpace(r.FormValue("shares"))
	if symbol == "" || raw == "" {
		writeError(w, msgSymbolAndShares, http.StatusBadRequest)
		return "", 0, false
	}
	shares, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || shares <= 0 {
		writeError(w, msgPositiveShares, http.StatusBadRequest)
		return "", 0, false
	}
	return symbol, shares, true
}

// parseOptionOrder reads the option form. expiration is returned as
// submitted, for the confirmation message.
func parseOptionOrder(w http.ResponseWriter, r *http.Request) (ledger.OptionOrder, string, bool) {
	fields := map[string]string{}
	for _, k := range []string{"symbol", "type", "strike", "premium", "expiration", "contracts"} {
		v := strings.TrimSpace(r.FormValue(k))
		if v == "" {
			writeError(w, "all fields required", http.StatusBadRequest)
			return ledger.OptionOrder{}, "", false
		}
		fields[k] = v
	}

	typ := strings.ToUpper(fields["type"])
	if typ != model.OptionCall && typ != model.OptionPut {
		writeError(w, "invalid option type", http.StatusBadRequest)
		return ledger.OptionOrder{}, "", false
	}

	strike, errS := decimal.NewFromString(fields["strike"])
	premium, errP := decimal.NewFromString(fields["premium"])
	contracts, errC := strconv.ParseInt(fields["contracts"], 10, 64)
	if errS != nil || errP != nil || errC != nil ||
		!strike.IsPositive() || premium.IsNegative() || contracts <= 0 {
		writeError(w, "invalid strike, premium, or contracts", http.StatusBadRequest)
		return ledger.OptionOrder{}, "", false
	}

	exp, err := time.Parse("2006-01-02", fields["expiration"])
	if err != nil {
		writeError(w, "invalid expiration date", http.StatusBadRequest)
		return ledger.OptionOrder{}, "", false
	}

	return ledger.OptionOrder{
		Symbol:     quote.Normalize(fields["symbol"]),
		Type:       typ,
		Strike:     strike,
		Premium:    premium,
		Expiration: exp,
		Contracts:  contracts,
	}, fields["expiration"], true
}

// writeLedgerError maps a ledger error to a response. Errors listed in
// messages get that text. Other rejections echo the error and anything
// else is logged and returned as 500.
func (s *Service) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error, messages map[error]string) {
	for target, msg := range messages {
		if errors.Is(err, target) {
			writeError(w, msg, http.StatusBadRequest)
			return
		}
	}
	switch {
	case ledger.IsRejection(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "unknown account", http.StatusBadRequest)
	default:
		slog.Error("request failed", "op", op, "user", auth.UserID(r.Context()), "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
