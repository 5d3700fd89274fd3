package quote

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFixed_Lookup(t *testing.T) {
	f := NewFixed(map[string]decimal.Decimal{"aapl": decimal.NewFromInt(50)})

	q, err := f.Lookup(context.Background(), "AaPl")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if q.Symbol != "AAPL" || !q.Price.Equal(decimal.NewFromInt(50)) {
		t.Errorf("got %s @ %s, want AAPL @ 50", q.Symbol, q.Price)
	}

	if _, err := f.Lookup(context.Background(), "MSFT"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unknown symbol err = %v, want ErrUnavailable", err)
	}

	f.Set("MSFT", decimal.NewFromInt(300))
	if _, err := f.Lookup(context.Background(), "msft"); err != nil {
		t.Errorf("after Set: %v", err)
	}

	f.Remove("aapl")
	if _, err := f.Lookup(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("after Remove err = %v, want ErrUnavailable", err)
	}
}

func TestFixed_ZeroPriceUnavailable(t *testing.T) {
	f := NewFixed(map[string]decimal.Decimal{"ZERO": decimal.Zero})
	if _, err := f.Lookup(context.Background(), "ZERO"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
