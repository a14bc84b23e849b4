package dashboard

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/live"
)

func feedEvent(t *testing.T, ev events.Event) live.FeedEvent {
	t.Helper()
	payload, err := events.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h := ev.EventHeader()
	return live.FeedEvent{ID: h.ID, Kind: h.Type, Channel: ev.Channel(), Time: h.EventTime, Payload: payload}
}

func TestComputeBoard(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	buy := &domain.Order{ID: 1, Type: domain.OrderTypeBuy, Status: domain.OrderStatusOpen, AccountID: 7,
		Symbol: "AAPL", Quantity: decimal.NewFromInt(10), Fee: decimal.RequireFromString("9.95")}
	sell := &domain.Order{ID: 2, Type: domain.OrderTypeSell, Status: domain.OrderStatusOpen, AccountID: 7,
		Symbol: "MSFT", Quantity: decimal.NewFromInt(1), Fee: decimal.RequireFromString("9.95")}

	done := *buy
	done.Status = domain.OrderStatusCompleted
	done.Price = decimal.NewNullDecimal(decimal.NewFromInt(100))
	completedAt := t0.Add(2 * time.Second)
	done.CompletionDate = &completedAt
	completed, err := events.NewOrderCompleted(&done, completedAt)
	if err != nil {
		t.Fatalf("NewOrderCompleted: %v", err)
	}

	evs := []live.FeedEvent{
		feedEvent(t, events.NewOrderCreated(buy, decimal.NullDecimal{}, t0)),
		feedEvent(t, events.NewQuoteUpdated(&domain.Quote{Symbol: "AAPL", Price: decimal.NewFromInt(100), PriceChange: decimal.NewFromInt(4), Volume: 50}, t0)),
		feedEvent(t, events.NewOrderCreated(sell, decimal.NullDecimal{}, t0.Add(time.Second))),
		feedEvent(t, completed),
		// Sweeper republish after completion.
		feedEvent(t, events.NewOrderCreated(buy, decimal.NullDecimal{}, t0.Add(3*time.Second))),
		feedEvent(t, events.NewQuoteUpdated(&domain.Quote{Symbol: "IBM", Price: decimal.NewFromInt(95), PriceChange: decimal.NewFromInt(-5), Volume: 900}, t0.Add(4*time.Second))),
		{ID: "junk", Payload: []byte("{")},
	}

	b := ComputeBoard(evs, SortChange)
	if b.Created != 3 || b.Completed != 1 || b.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d", b.Created, b.Completed, b.Skipped)
	}
	if !b.LatestAt.Equal(t0.Add(4 * time.Second)) {
		t.Errorf("LatestAt = %v", b.LatestAt)
	}
	if len(b.Orders) != 2 {
		t.Fatalf("orders = %+v", b.Orders)
	}
	if b.Orders[0].OrderID != 1 || b.Orders[0].Status != domain.OrderStatusCompleted {
		t.Errorf("first order = %+v", b.Orders[0])
	}
	// 10 * 100 + 9.95
	if got := b.Orders[0].Total(); !got.Equal(decimal.RequireFromString("1009.95")) {
		t.Errorf("Total = %s", got)
	}
	if b.Orders[1].Status != domain.OrderStatusOpen || !b.Orders[1].Total().IsZero() {
		t.Errorf("open order = %+v", b.Orders[1])
	}

	if len(b.Quotes) != 2 || b.Quotes[0].Symbol != "AAPL" || b.Quotes[1].Symbol != "IBM" {
		t.Fatalf("quotes = %+v", b.Quotes)
	}
	// 4 / 96
	if got := b.Quotes[0].ChangePercent(); !got.Equal(decimal.RequireFromString("4.17")) {
		t.Errorf("ChangePercent = %s", got)
	}

	SortQuotes(b.Quotes, SortVolume)
	if b.Quotes[0].Symbol != "IBM" {
		t.Errorf("volume sort = %+v", b.Quotes)
	}
}

func TestSortModeLabel(t *testing.T) {
	for mode := 0; mode < SortModeCount; mode++ {
		if SortModeLabel(mode) == "?" {
			t.Errorf("mode %d has no label", mode)
		}
	}
	if SortModeLabel(SortModeCount) != "?" {
		t.Error("out-of-range mode labelled")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatInt(0), "0"},
		{FormatInt(999), "999"},
		{FormatInt(1234567), "1,234,567"},
		{FormatInt(-12345), "-12,345"},
		{FormatVolume(950), "950"},
		{FormatVolume(12_500), "12.5K"},
		{FormatVolume(3_200_000), "3.2M"},
		{FormatPrice(decimal.Zero), "-"},
		{FormatPrice(decimal.RequireFromString("175.5")), "175.50"},
		{FormatChange(decimal.RequireFromString("1.234")), "+1.23%"},
		{FormatChange(decimal.RequireFromString("-0.5")), "-0.50%"},
		{FormatChange(decimal.Zero), ""},
	}
	for i, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("case %d = %q, want %q", i, tt.got, tt.want)
		}
	}
}
