package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/stocktrak/stocktrak/internal/metrics"
	"github.com/stocktrak/stocktrak/internal/model"
)

var _ Gateway = (*Client)(nil)

const (
	chartPoints = 30
	yearOfDays  = 365
)

// ClientConfig holds configuration for the Alpha Vantage client.
type ClientConfig struct {
	// APIKey is the Alpha Vantage API key. Required.
	APIKey string

	// BaseURL defaults to https://www.alphavantage.co/query.
	BaseURL string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// RatePerMinute caps upstream calls. Each lookup makes up to three.
	RatePerMinute int

	// Retry controls backoff on transient failures.
	Retry RetryConfig

	// SkipSeries disables the intraday chart and 52-week range requests.
	SkipSeries bool

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:       "https://www.alphavantage.co/query",
		Timeout:       10 * time.Second,
		RatePerMinute: 75,
		Retry:         DefaultRetryConfig(),
		Logger:        slog.Default(),
	}
}

// Client is a Gateway backed by the Alpha Vantage REST API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// NewClient creates an Alpha Vantage client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("quote: APIKey is required")
	}
	applyDefaults(&config, ClientConfigDefaults())

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With("component", "alphavantage"),
		limiter:    rate.NewLimiter(rate.Limit(float64(config.RatePerMinute)/60), 1),
	}, nil
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = defaults.RatePerMinute
	}
	if config.Retry == (RetryConfig{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// globalQuoteResponse is the GLOBAL_QUOTE payload. Throttled or invalid
// requests come back as 200 with Note/Information/Error Message set.
type globalQuoteResponse struct {
	Quote        map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

type seriesResponse struct {
	Intraday map[string]map[string]string `json:"Time Series (1min)"`
	Daily    map[string]map[string]string `json:"Time Series (Daily)"`
}

// Lookup fetches the current quote for symbol. Chart and 52-week data are
// best effort; their failure leaves those fields empty.
func (c *Client) Lookup(ctx context.Context, symbol string) (*model.Quote, error) {
	start := time.Now()
	q, err := c.lookup(ctx, Normalize(symbol))
	metrics.QuoteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QuoteLookupsTotal.WithLabelValues("unavailable").Inc()
		c.logger.Info("quote unavailable", "symbol", symbol, "err", err)
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, Normalize(symbol))
	}
	metrics.QuoteLookupsTotal.WithLabelValues("ok").Inc()
	return q, nil
}

func (c *Client) lookup(ctx context.Context, sym string) (*model.Quote, error) {
	if sym == "" {
		return nil, errors.New("empty symbol")
	}

	var gq globalQuoteResponse
	if err := c.get(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {sym}}, &gq); err != nil {
		return nil, err
	}
	if gq.Note != "" || gq.Information != "" || gq.ErrorMessage != "" {
		return nil, fmt.Errorf("upstream: %s%s%s", gq.Note, gq.Information, gq.ErrorMessage)
	}

	q, err := parseGlobalQuote(sym, gq.Quote)
	if err != nil {
		return nil, err
	}

	if c.config.SkipSeries {
		return q, nil
	}

	var intraday seriesResponse
	err = c.get(ctx, url.Values{
		"function":   {"TIME_SERIES_INTRADAY"},
		"symbol":     {sym},
		"interval":   {"1min"},
		"outputsize": {"compact"},
	}, &intraday)
	if err != nil {
		c.logger.Debug("intraday series unavailable", "symbol", sym, "err", err)
	} else {
		q.ChartDates, q.ChartCloses = recentCloses(intraday.Intraday, chartPoints)
	}

	var daily seriesResponse
	err = c.get(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY_ADJUSTED"},
		"symbol":     {sym},
		"outputsize": {"full"},
	}, &daily)
	if err != nil {
		c.logger.Debug("daily series unavailable", "symbol", sym, "err", err)
	} else {
		q.Week52High, q.Week52Low = closeRange(daily.Daily, yearOfDays)
	}

	return q, nil
}

// parseGlobalQuote builds a Quote from the "Global Quote" object. Only the
// price is mandatory; the other fields default to zero.
func parseGlobalQuote(sym string, fields map[string]string) (*model.Quote, error) {
	raw := fields["05. price"]
	if raw == "" {
		return nil, errors.New("no price in response")
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing price %q: %w", raw, err)
	}
	price = price.Round(2)
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price %s", price)
	}

	volume, _ := strconv.ParseInt(fields["06. volume"], 10, 64)

	return &model.Quote{
		Symbol:    sym,
		Name:      sym,
		Price:     price,
		Open:      decimalOrZero(fields["02. open"]),
		High:      decimalOrZero(fields["03. high"]),
		Low:       decimalOrZero(fields["04. low"]),
		Volume:    volume,
		PrevClose: decimalOrZero(fields["08. previous close"]),
	}, nil
}

// recentCloses returns the n most recent "4. close" values, oldest first.
func recentCloses(series map[string]map[string]string, n int) ([]string, []decimal.Decimal) {
	keys := newestFirst(series)
	if len(keys) > n {
		keys = keys[:n]
	}
	if len(keys) == 0 {
		return nil, nil
	}

	dates := make([]string, 0, len(keys))
	closes := make([]decimal.Decimal, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		dates = append(dates, keys[i])
		closes = append(closes, decimalOrZero(series[keys[i]]["4. close"]))
	}
	return dates, closes
}

// closeRange returns the max and min "4. close" over the n most recent
// entries, or nils when the series is empty.
func closeRange(series map[string]map[string]string, n int) (*decimal.Decimal, *decimal.Decimal) {
	keys := newestFirst(series)
	if len(keys) > n {
		keys = keys[:n]
	}
	if len(keys) == 0 {
		return nil, nil
	}

	hi := decimalOrZero(series[keys[0]]["4. close"])
	lo := hi
	for _, k := range keys[1:] {
		v := decimalOrZero(series[k]["4. close"])
		if v.GreaterThan(hi) {
			hi = v
		}
		if v.LessThan(lo) {
			lo = v
		}
	}
	return &hi, &lo
}

// newestFirst sorts timestamp keys descending. Alpha Vantage keys are
// ISO-formatted, so lexical order is chronological.
func newestFirst(series map[string]map[string]string) []string {
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

func decimalOrZero(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (c *Client) get(ctx context.Context, params url.Values, result any) error {
	params.Set("apikey", c.config.APIKey)
	fullURL := c.config.BaseURL + "?" + params.Encode()

	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"function", params.Get("function"),
			"attempt", attempt,
			"backoff", backoff,
			"err", err,
		)
	}

	_, err := retry(ctx, c.config.Retry, onRetry, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return struct{}{}, c.doSingleRequest(ctx, fullURL, result)
	})
	return err
}

func (c *Client) doSingleRequest(ctx context.Context, fullURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return permanent(fmt.Errorf("client error (HTTP %d)", resp.StatusCode))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return permanent(fmt.Errorf("parsing response: %w", err))
	}
	return nil
}
