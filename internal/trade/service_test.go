package trade_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/auth"
	"github.com/stocktrak/stocktrak/internal/ledger"
	"github.com/stocktrak/stocktrak/internal/market"
	"github.com/stocktrak/stocktrak/internal/model"
	"github.com/stocktrak/stocktrak/internal/quote"
	"github.com/stocktrak/stocktrak/internal/store"
	"github.com/stocktrak/stocktrak/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	router http.Handler
	store  *store.MemoryStore
	quotes *quote.Fixed
	clock  *market.Clock
}

// newTestEnv wires the handlers over an in-memory store with user "u1"
// holding 10000.00 and an always-open market. Every request is
// authenticated as u1.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	fq := quote.NewFixed(map[string]decimal.Decimal{"AAPL": d("50.00"), "MSFT": d("300.00")})
	clock := &market.Clock{AlwaysOpen: true}

	err := ms.CreateUser(context.Background(), &model.User{
		ID:          "u1",
		Username:    "alice",
		Cash:        d("10000.00"),
		InitialCash: d("10000.00"),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	svc := trade.NewService(ledger.New(ms, fq), fq, clock)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), "u1")))
		})
	})
	r.Get("/", svc.Portfolio)
	r.Get("/quote", svc.Quote)
	r.Post("/quote", svc.Quote)
	r.Post("/buy", svc.Buy)
	r.Post("/sell", svc.Sell)
	r.Get("/history", svc.History)
	r.Get("/cash", svc.Cash)
	r.Post("/cash", svc.Cash)
	r.Get("/short", svc.Short)
	r.Post("/short", svc.Short)
	r.Get("/options", svc.Options)
	r.Post("/options", svc.Options)

	return testEnv{router: r, store: ms, quotes: fq, clock: clock}
}

// closeMarket pins the clock to a Saturday.
func (e testEnv) closeMarket() {
	e.clock.AlwaysOpen = false
	e.clock.Now = func() time.Time { return time.Date(2024, 1, 6, 15, 0, 0, 0, time.UTC) }
}

func (e testEnv) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (e testEnv) cash(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	return u.Cash
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error"] != msg {
		t.Errorf("expected error %q, got %q", msg, body["error"])
	}
}

func expectMessage(t *testing.T, w *httptest.ResponseRecorder, msg string) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Message string `json:"message"`
	}
	decode(t, w, &body)
	if body.Message != msg {
		t.Errorf("expected message %q, got %q", msg, body.Message)
	}
}

func TestBuy(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/buy", url.Values{"symbol": {"aapl"}, "shares": {"10"}})
	expectMessage(t, w, "Bought 10 shares of AAPL!")

	if got := env.cash(t); !got.Equal(d("9500.00")) {
		t.Errorf("expected cash 9500.00, got %s", got)
	}
}

func TestBuy_Rejections(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		msg  string
	}{
		{"missing shares", url.Values{"symbol": {"AAPL"}}, "must provide symbol and shares"},
		{"missing symbol", url.Values{"shares": {"1"}}, "must provide symbol and shares"},
		{"zero shares", url.Values{"symbol": {"AAPL"}, "shares": {"0"}}, "shares must be a positive integer"},
		{"negative shares", url.Values{"symbol": {"AAPL"}, "shares": {"-3"}}, "shares must be a positive integer"},
		{"fractional shares", url.Values{"symbol": {"AAPL"}, "shares": {"1.5"}}, "shares must be a positive integer"},
		{"text shares", url.Values{"symbol": {"AAPL"}, "shares": {"ten"}}, "shares must be a positive integer"},
		{"unknown symbol", url.Values{"symbol": {"ZZZZ"}, "shares": {"1"}}, "invalid symbol"},
		{"too expensive", url.Values{"symbol": {"MSFT"}, "shares": {"34"}}, "not enough cash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			expectError(t, env.post(t, "/buy", tt.form), http.StatusBadRequest, tt.msg)
			if got := env.cash(t); !got.Equal(d("10000.00")) {
				t.Errorf("cash changed to %s", got)
			}
		})
	}
}

func TestBuy_MarketClosedCheckedFirst(t *testing.T) {
	env := newTestEnv(t)
	env.closeMarket()

	w := env.post(t, "/buy", url.Values{})
	expectError(t, w, http.StatusBadRequest, "Trading is only allowed during US market hours (9:30am-4:00pm ET, Mon-Fri)")
}

func TestSell(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/buy", url.Values{"symbol": {"AAPL"}, "shares": {"10"}})
	env.quotes.Set("AAPL", d("55.00"))

	w := env.post(t, "/sell", url.Values{"symbol": {"AAPL"}, "shares": {"4"}})
	expectMessage(t, w, "Sold 4 shares of AAPL!")

	if got := env.cash(t); !got.Equal(d("9720.00")) {
		t.Errorf("expected cash 9720.00, got %s", got)
	}

	w = env.post(t, "/sell", url.Values{"symbol": {"AAPL"}, "shares": {"7"}})
	expectError(t, w, http.StatusBadRequest, "not enough shares to sell")
}

func TestSell_HoldingsCheckedBeforeQuote(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/sell", url.Values{"symbol": {"ZZZZ"}, "shares": {"1"}})
	expectError(t, w, http.StatusBadRequest, "not enough shares to sell")
}

func TestSell_MarketClosed(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/buy", url.Values{"symbol": {"AAPL"}, "shares": {"1"}})
	env.closeMarket()

	w := env.post(t, "/sell", url.Values{"symbol": {"AAPL"}, "shares": {"1"}})
	expectError(t, w, http.StatusBadRequest, "Trading is only allowed during US market hours (9:30am-4:00pm ET, Mon-Fri)")
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/quote")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	expectError(t, env.post(t, "/quote", url.Values{}), http.StatusBadRequest, "Must provide symbol.")
	expectError(t, env.post(t, "/quote", url.Values{"symbol": {"zzzz"}}), http.StatusBadRequest, "Invalid symbol: ZZZZ")

	w = env.post(t, "/quote", url.Values{"symbol": {" msft "}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.QuoteResponse
	decode(t, w, &resp)
	if resp.Quote == nil || resp.Quote.Symbol != "MSFT" || !resp.Quote.Price.Equal(d("300")) {
		t.Errorf("unexpected quote: %+v", resp.Quote)
	}
}

func TestQuote_AllowedWhenMarketClosed(t *testing.T) {
	env := newTestEnv(t)
	env.closeMarket()

	w := env.get(t, "/quote?symbol=AAPL")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCash(t *testing.T) {
	env := newTestEnv(t)

	expectMessage(t, env.post(t, "/cash", url.Values{"amount": {"1234.5"}}), "Added $1,234.50 to your account.")
	expectMessage(t, env.post(t, "/cash", url.Values{"amount": {"-234.50"}}), "Subtracted $234.50 to your account.")

	w := env.get(t, "/cash")
	var resp trade.CashResponse
	decode(t, w, &resp)
	if !resp.Cash.Equal(d("11000.00")) {
		t.Errorf("expected cash 11000.00, got %s", resp.Cash)
	}
}

func TestCash_Rejections(t *testing.T) {
	env := newTestEnv(t)

	expectError(t, env.post(t, "/cash", url.Values{"amount": {"lots"}}), http.StatusBadRequest, "invalid amount")
	expectError(t, env.post(t, "/cash", url.Values{}), http.StatusBadRequest, "invalid amount")
	expectError(t, env.post(t, "/cash", url.Values{"amount": {"-10000.01"}}), http.StatusBadRequest, "not enough cash to subtract")

	if got := env.cash(t); !got.Equal(d("10000.00")) {
		t.Errorf("cash changed to %s", got)
	}
}

func TestOutOfRangeAmountsRejected(t *testing.T) {
	env := newTestEnv(t)

	expectError(t, env.post(t, "/cash", url.Values{"amount": {"100000000000000000"}}), http.StatusBadRequest, "invalid amount")

	w := env.post(t, "/short", url.Values{"action": {"short_sell"}, "symbol": {"AAPL"}, "shares": {"9000000000000000000"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	if got := env.cash(t); !got.Equal(d("10000.00")) {
		t.Errorf("cash changed to %s", got)
	}
	var resp trade.ShortsResponse
	decode(t, env.get(t, "/short"), &resp)
	if len(resp.Shorts) != 0 {
		t.Errorf("expected no open shorts, got %+v", resp.Shorts)
	}
}

func TestShort_SellAndBuyBack(t *testing.T) {
	env := newTestEnv(t)
	env.closeMarket()

	w := env.post(t, "/short", url.Values{"action": {"short_sell"}, "symbol": {"AAPL"}, "shares": {"10"}})
	expectMessage(t, w, "Short sold 10 shares of AAPL at $50.00.")
	if got := env.cash(t); !got.Equal(d("10500.00")) {
		t.Errorf("expected cash 10500.00, got %s", got)
	}

	env.quotes.Set("AAPL", d("40.00"))
	w = env.post(t, "/short", url.Values{"action": {"short_buy"}, "symbol": {"AAPL"}, "shares": {"4"}})
	expectMessage(t, w, "Bought back 4 shares of AAPL at $40.00.")
	if got := env.cash(t); !got.Equal(d("10340.00")) {
		t.Errorf("expected cash 10340.00, got %s", got)
	}

	var resp trade.ShortsResponse
	decode(t, env.get(t, "/short"), &resp)
	if len(resp.Shorts) != 1 || resp.Shorts[0].Shares != 6 {
		t.Errorf("expected one open short of 6, got %+v", resp.Shorts)
	}
}

func TestShort_Rejections(t *testing.T) {
	env := newTestEnv(t)

	expectError(t, env.post(t, "/short", url.Values{"action": {"short_buy"}, "symbol": {"AAPL"}, "shares": {"1"}}),
		http.StatusBadRequest, "not enough shorted shares to buy back")
	expectError(t, env.post(t, "/short", url.Values{"action": {"hedge"}, "symbol": {"AAPL"}, "shares": {"1"}}),
		http.StatusBadRequest, "invalid action")
	expectError(t, env.post(t, "/short", url.Values{"action": {"short_sell"}, "symbol": {"ZZZZ"}, "shares": {"1"}}),
		http.StatusBadRequest, "invalid symbol")
	expectError(t, env.post(t, "/short", url.Values{"action": {"short_sell"}, "symbol": {"AAPL"}}),
		http.StatusBadRequest, "must provide symbol and shares")
}

func TestShort_BuyBackNeedsCash(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/short", url.Values{"action": {"short_sell"}, "symbol": {"AAPL"}, "shares": {"100"}})
	env.quotes.Set("AAPL", d("500.00"))

	w := env.post(t, "/short", url.Values{"action": {"short_buy"}, "symbol": {"AAPL"}, "shares": {"100"}})
	expectError(t, w, http.StatusBadRequest, "not enough cash to buy back shares")
}

func optionForm() url.Values {
	return url.Values{
		"symbol":     {"aapl"},
		"type":       {"CALL"},
		"strike":     {"150"},
		"premium":    {"3.5"},
		"expiration": {"2025-01-17"},
		"contracts":  {"2"},
	}
}

func TestOptions(t *testing.T) {
	env := newTestEnv(t)

	w := env.post(t, "/options", optionForm())
	expectMessage(t, w, "Bought 2 CALL option(s) for AAPL at strike $150.00 (premium $3.50) expiring 2025-01-17")

	if got := env.cash(t); !got.Equal(d("10000.00")) {
		t.Errorf("options must not move cash, got %s", got)
	}

	var resp trade.OptionsResponse
	decode(t, env.get(t, "/options"), &resp)
	if len(resp.Options) != 1 || resp.Options[0].Contracts != 2 || resp.Options[0].Type != model.OptionCall {
		t.Errorf("unexpected options: %+v", resp.Options)
	}
}

func TestOptions_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
		msg   string
	}{
		{"missing strike", "strike", "", "all fields required"},
		{"bad type", "type", "STRADDLE", "invalid option type"},
		{"zero strike", "strike", "0", "invalid strike, premium, or contracts"},
		{"negative premium", "premium", "-1", "invalid strike, premium, or contracts"},
		{"fractional contracts", "contracts", "1.5", "invalid strike, premium, or contracts"},
		{"bad expiration", "expiration", "next friday", "invalid expiration date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			form := optionForm()
			form.Set(tt.field, tt.value)
			expectError(t, env.post(t, "/options", form), http.StatusBadRequest, tt.msg)
		})
	}
}

func TestOptions_MarketClosed(t *testing.T) {
	env := newTestEnv(t)
	env.closeMarket()

	w := env.post(t, "/options", optionForm())
	expectError(t, w, http.StatusBadRequest, "Options trading is only allowed during US market hours (9:30am-4:00pm ET, Mon-Fri)")

	w = env.get(t, "/options")
	if w.Code != http.StatusOK {
		t.Errorf("listing options should not be gated, got %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)

	var empty model.HistoryPage
	w := env.get(t, "/history?page=abc")
	decode(t, w, &empty)
	if empty.Page != 1 || empty.MaxPage != 1 || len(empty.Entries) != 0 {
		t.Errorf("unexpected empty history: %+v", empty)
	}

	for i := 0; i < 16; i++ {
		env.post(t, "/buy", url.Values{"symbol": {"AAPL"}, "shares": {"1"}})
	}
	env.post(t, "/cash", url.Values{"amount": {"5"}})

	var page model.HistoryPage
	decode(t, env.get(t, "/history?page=9"), &page)
	if page.Page != 2 || page.MaxPage != 2 || len(page.Entries) != 2 {
		t.Errorf("expected clamped page 2 of 2 with 2 entries, got page=%d max=%d n=%d",
			page.Page, page.MaxPage, len(page.Entries))
	}
}

func TestPortfolio(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/buy", url.Values{"symbol": {"AAPL"}, "shares": {"10"}})
	env.post(t, "/buy", url.Values{"symbol": {"MSFT"}, "shares": {"2"}})
	env.quotes.Set("AAPL", d("60.00"))

	var p model.Portfolio
	decode(t, env.get(t, "/"), &p)

	if len(p.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(p.Positions))
	}
	if !p.Cash.Equal(d("8900.00")) {
		t.Errorf("expected cash 8900.00, got %s", p.Cash)
	}
	if !p.Total.Equal(d("10100.00")) {
		t.Errorf("expected total 10100.00, got %s", p.Total)
	}
}
