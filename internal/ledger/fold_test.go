package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocktrak/stocktrak/internal/model"
)

func TestHoldings(t *testing.T) {
	txs := []model.Transaction{
		{Symbol: "MSFT", Shares: 5, Type: model.TypeBuy},
		{Symbol: "AAPL", Shares: 10, Type: model.TypeBuy},
		{Symbol: "AAPL", Shares: 4, Type: model.TypeSell},
		{Symbol: "TSLA", Shares: 2, Type: model.TypeBuy},
		{Symbol: "TSLA", Shares: 2, Type: model.TypeSell},
	}
	got := Holdings(txs)
	want := []model.Holding{{Symbol: "AAPL", Shares: 6}, {Symbol: "MSFT", Shares: 5}}
	if len(got) != len(want) {
		t.Fatalf("holdings = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("holdings[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		total, page, size             int
		wantPage, wantMax, start, end int
	}{
		{0, 1, 15, 1, 1, 0, 0},
		{0, 5, 15, 1, 1, 0, 0},
		{15, 1, 15, 1, 1, 0, 15},
		{16, 2, 15, 2, 2, 15, 16},
		{16, 0, 15, 1, 2, 0, 15},
		{16, -1, 15, 1, 2, 0, 15},
		{45, 7, 15, 3, 3, 30, 45},
	}
	for _, tt := range tests {
		page, max, start, end := Paginate(tt.total, tt.page, tt.size)
		if page != tt.wantPage || max != tt.wantMax || start != tt.start || end != tt.end {
			t.Errorf("Paginate(%d, %d, %d) = %d, %d, %d, %d; want %d, %d, %d, %d",
				tt.total, tt.page, tt.size, page, max, start, end,
				tt.wantPage, tt.wantMax, tt.start, tt.end)
		}
	}
}

func TestMergeHistory_TiesKeepTradesFirst(t *testing.T) {
	at := time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)
	txs := []model.Transaction{{Symbol: "AAPL", Shares: 1, Price: decimal.NewFromInt(1), Type: model.TypeBuy, Timestamp: at}}
	events := []model.CashEvent{
		{Amount: decimal.NewFromInt(5), Timestamp: at},
		{Amount: decimal.NewFromInt(7), Timestamp: at.Add(time.Minute)},
	}

	got := mergeHistory(txs, events)
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].CashChange == nil || !got[0].CashChange.Equal(decimal.NewFromInt(7)) {
		t.Errorf("first = %+v, want newest cash event", got[0])
	}
	if got[1].Type != model.TypeBuy || got[2].Type != model.TypeCash {
		t.Errorf("tie order = %s, %s; want BUY, CASH", got[1].Type, got[2].Type)
	}
	if got[1].Price == nil || got[1].CashChange != nil {
		t.Error("trade rows carry price, not cash change")
	}
}
