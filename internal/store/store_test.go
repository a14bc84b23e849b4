package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "daytrader.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newOpenOrder(account int64, typ domain.OrderType, symbol string, qty string, opened time.Time) *domain.Order {
	return &domain.Order{
		Type:      typ,
		Status:    domain.OrderStatusOpen,
		AccountID: account,
		Symbol:    symbol,
		Quantity:  decimal.RequireFromString(qty),
		Fee:       domain.DefaultOrderFee,
		OpenDate:  opened,
	}
}

// runOrderStoreContract exercises any Store implementation.
func runOrderStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	opened := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	o := newOpenOrder(7, domain.OrderTypeBuy, "AAPL", "10", opened)
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.ID == 0 {
		t.Fatal("CreateOrder did not assign an ID")
	}

	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusOpen || got.Symbol != "AAPL" || !got.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("GetOrder = %+v", got)
	}
	if got.Price.Valid || got.CompletionDate != nil || got.PositionID != nil {
		t.Errorf("open order carries execution fields: %+v", got)
	}
	if !got.OpenDate.Equal(opened) {
		t.Errorf("OpenDate = %v, want %v", got.OpenDate, opened)
	}

	// Claim open -> processing.
	claimed, err := s.TransitionOrder(ctx, o.ID, []domain.OrderStatus{domain.OrderStatusOpen}, func(o *domain.Order) {
		o.Status = domain.OrderStatusProcessing
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Version != got.Version+1 {
		t.Errorf("version after claim = %d, want %d", claimed.Version, got.Version+1)
	}

	// A second claim sees the order is no longer open.
	_, err = s.TransitionOrder(ctx, o.ID, []domain.OrderStatus{domain.OrderStatusOpen}, func(o *domain.Order) {
		o.Status = domain.OrderStatusProcessing
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second claim err = %v, want ErrInvalidState", err)
	}

	// Complete with price and position link.
	pos := &domain.Position{
		AccountID:      7,
		Symbol:         "AAPL",
		Quantity:       decimal.NewFromInt(10),
		CostBasisPrice: decimal.RequireFromString("175.50"),
		AcquiredAt:     opened.Add(time.Second),
		OrderID:        o.ID,
	}
	if err := s.CreatePosition(ctx, pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}
	done := opened.Add(2 * time.Second)
	completed, err := s.TransitionOrder(ctx, o.ID, []domain.OrderStatus{domain.OrderStatusProcessing}, func(o *domain.Order) {
		o.Complete(decimal.RequireFromString("175.50"), done, &pos.ID)
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	reread, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder after complete: %v", err)
	}
	if err := reread.CheckInvariants(); err != nil {
		t.Errorf("completed order invariants: %v", err)
	}
	if !reread.Price.Decimal.Equal(decimal.RequireFromString("175.50")) {
		t.Errorf("price = %s, want 175.50", reread.Price.Decimal)
	}
	if reread.PositionID == nil || *reread.PositionID != pos.ID {
		t.Errorf("positionId = %v, want %d", reread.PositionID, pos.ID)
	}
	if reread.Version != completed.Version {
		t.Errorf("stored version %d, returned %d", reread.Version, completed.Version)
	}

	// Terminal: cancel is rejected.
	if _, err := s.TransitionOrder(ctx, o.ID, []domain.OrderStatus{domain.OrderStatusOpen, domain.OrderStatusProcessing}, func(o *domain.Order) {
		o.Cancel(done)
	}); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("cancel completed order err = %v, want ErrInvalidState", err)
	}

	// Listing.
	sell := newOpenOrder(7, domain.OrderTypeSell, "GOOGL", "5", opened.Add(time.Minute))
	if err := s.CreateOrder(ctx, sell); err != nil {
		t.Fatalf("CreateOrder sell: %v", err)
	}
	other := newOpenOrder(8, domain.OrderTypeBuy, "IBM", "1", opened)
	if err := s.CreateOrder(ctx, other); err != nil {
		t.Fatalf("CreateOrder other: %v", err)
	}

	all, err := s.ListOrders(ctx, 7, "")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListOrders = %d orders, want 2", len(all))
	}
	if all[0].ID != sell.ID {
		t.Errorf("ListOrders first = %d, want newest %d", all[0].ID, sell.ID)
	}
	open, err := s.ListOrders(ctx, 7, domain.OrderStatusOpen)
	if err != nil {
		t.Fatalf("ListOrders(open): %v", err)
	}
	if len(open) != 1 || open[0].ID != sell.ID {
		t.Errorf("ListOrders(open) = %+v", open)
	}

	stale, err := s.ListStaleOrders(ctx, domain.OrderStatusOpen, opened.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListStaleOrders: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != other.ID {
		t.Errorf("ListStaleOrders = %+v, want only order %d", stale, other.ID)
	}

	// A processing order ages from its claim, not its open date.
	claimedAt := opened.Add(10 * time.Minute)
	if _, err := s.TransitionOrder(ctx, other.ID, []domain.OrderStatus{domain.OrderStatusOpen}, func(o *domain.Order) {
		o.Claim(claimedAt)
	}); err != nil {
		t.Fatalf("claim other: %v", err)
	}
	got, err = s.GetOrder(ctx, other.ID)
	if err != nil {
		t.Fatalf("GetOrder(other): %v", err)
	}
	if got.ClaimedAt == nil || !got.ClaimedAt.Equal(claimedAt) {
		t.Errorf("ClaimedAt = %v, want %v", got.ClaimedAt, claimedAt)
	}
	stuck, err := s.ListStaleOrders(ctx, domain.OrderStatusProcessing, opened.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ListStaleOrders(processing): %v", err)
	}
	if len(stuck) != 0 {
		t.Errorf("ListStaleOrders(processing, before claim) = %+v, want none", stuck)
	}
	stuck, err = s.ListStaleOrders(ctx, domain.OrderStatusProcessing, claimedAt.Add(time.Second))
	if err != nil {
		t.Fatalf("ListStaleOrders(processing): %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != other.ID {
		t.Errorf("ListStaleOrders(processing, after claim) = %+v, want order %d", stuck, other.ID)
	}

	if _, err := s.GetOrder(ctx, 9999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetOrder(missing) err = %v, want ErrNotFound", err)
	}

	// Positions.
	positions, err := s.ListPositions(ctx, 7)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 || !positions[0].CostBasisPrice.Equal(decimal.RequireFromString("175.5")) {
		t.Errorf("ListPositions = %+v", positions)
	}
	bySymbol, err := s.ListPositionsBySymbol(ctx, 7, "aapl")
	if err != nil {
		t.Fatalf("ListPositionsBySymbol: %v", err)
	}
	if len(bySymbol) != 1 {
		t.Errorf("ListPositionsBySymbol(aapl) = %d, want 1", len(bySymbol))
	}
	none, err := s.ListPositionsBySymbol(ctx, 7, "MSFT")
	if err != nil {
		t.Fatalf("ListPositionsBySymbol(MSFT): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListPositionsBySymbol(MSFT) = %d, want 0", len(none))
	}
	if _, err := s.GetPosition(ctx, 9999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetPosition(missing) err = %v, want ErrNotFound", err)
	}

	// Quotes.
	q := &domain.Quote{
		Symbol:    "AAPL",
		Price:     decimal.RequireFromString("175.50"),
		OpenPrice: decimal.RequireFromString("170"),
		LowPrice:  decimal.RequireFromString("169.5"),
		HighPrice: decimal.RequireFromString("176"),
		Volume:    1200,
		UpdatedAt: opened,
	}
	if err := s.SaveQuote(ctx, q); err != nil {
		t.Fatalf("SaveQuote: %v", err)
	}
	q.Price = decimal.RequireFromString("176.25")
	q.PriceChange = decimal.RequireFromString("0.75")
	if err := s.SaveQuote(ctx, q); err != nil {
		t.Fatalf("SaveQuote update: %v", err)
	}
	gotQ, err := s.GetQuote(ctx, "aapl")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !gotQ.Price.Equal(decimal.RequireFromString("176.25")) || !gotQ.PriceChange.Equal(decimal.RequireFromString("0.75")) {
		t.Errorf("GetQuote = %+v", gotQ)
	}
	quotes, err := s.ListQuotes(ctx)
	if err != nil {
		t.Fatalf("ListQuotes: %v", err)
	}
	if len(quotes) != 1 {
		t.Errorf("ListQuotes = %d, want 1", len(quotes))
	}
	if _, err := s.GetQuote(ctx, "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetQuote(missing) err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	runOrderStoreContract(t, newTestSQLite(t))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DAYTRADER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DAYTRADER_TEST_PG_DSN not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	_, _ = s.pool.Exec(context.Background(), `TRUNCATE orders, positions, quotes RESTART IDENTITY`)
	runOrderStoreContract(t, s)
}

func TestSQLiteTransitionVersionConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	o := newOpenOrder(1, domain.OrderTypeBuy, "AAPL", "1", time.Now().UTC())
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// Simulate a concurrent writer bumping the version between read and write.
	_, err := s.TransitionOrder(ctx, o.ID, []domain.OrderStatus{domain.OrderStatusOpen}, func(x *domain.Order) {
		if _, err := s.db.Exec(`UPDATE orders SET version = version + 1 WHERE id = ?`, o.ID); err != nil {
			t.Fatalf("bumping version: %v", err)
		}
		x.Status = domain.OrderStatusProcessing
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("TransitionOrder err = %v, want ErrConflict", err)
	}
	cur, _ := s.GetOrder(ctx, o.ID)
	if cur.Status != domain.OrderStatusOpen {
		t.Errorf("status after conflict = %s, want open", cur.Status)
	}
}

func TestSQLiteAddsClaimedAtToOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if _, err := s.db.Exec(`ALTER TABLE orders DROP COLUMN claimed_at`); err != nil {
		t.Fatalf("dropping claimed_at: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	o := newOpenOrder(1, domain.OrderTypeBuy, "AAPL", "1", time.Now().UTC())
	if err := s.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder after upgrade: %v", err)
	}
}

func TestParquetJournalPath(t *testing.T) {
	j := NewParquetJournal("/data")

	ts := time.Date(2024, 6, 15, 23, 0, 0, 0, time.UTC)
	p := j.journalPath(ts)

	want := filepath.Join("/data", "journal", "2024-06-15.parquet")
	if p != want {
		t.Errorf("journalPath mismatch:\n  got  %s\n  want %s", p, want)
	}
	if !strings.Contains(p, "journal") {
		t.Errorf("journalPath should contain 'journal': %s", p)
	}
}

func TestParquetJournalAppendRead(t *testing.T) {
	dir := t.TempDir()
	j := NewParquetJournal(dir)
	ctx := context.Background()
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	first := []domain.SagaRecord{
		{OrderID: 1, AccountID: 7, Symbol: "AAPL", Step: domain.StepLedger, Outcome: domain.OutcomeApplied, Amount: "-1764.95", Time: day.Add(time.Hour)},
		{OrderID: 1, AccountID: 7, Symbol: "AAPL", Step: domain.StepComplete, Outcome: domain.OutcomeCompleted, Time: day.Add(time.Hour)},
	}
	if err := j.AppendJournal(ctx, first); err != nil {
		t.Fatalf("AppendJournal: %v", err)
	}
	second := []domain.SagaRecord{
		{OrderID: 2, AccountID: 7, Symbol: "ZZZZ", Step: domain.StepPrice, Outcome: domain.OutcomeCancelled, Detail: "quote ZZZZ: not found", Time: day.Add(2 * time.Hour)},
		{OrderID: 3, Step: domain.StepDecode, Outcome: domain.OutcomeFailed, Time: day.AddDate(0, 0, 1)},
	}
	if err := j.AppendJournal(ctx, second); err != nil {
		t.Fatalf("AppendJournal second: %v", err)
	}

	got, err := j.ReadJournal(ctx, day)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadJournal returned %d records, want 3", len(got))
	}
	if got[0].Step != domain.StepLedger || got[1].Step != domain.StepComplete {
		t.Errorf("same-timestamp records out of append order: %v, %v", got[0].Step, got[1].Step)
	}
	if got[0].Amount != "-1764.95" {
		t.Errorf("Amount = %q", got[0].Amount)
	}
	if got[2].Detail != "quote ZZZZ: not found" {
		t.Errorf("Detail = %q", got[2].Detail)
	}

	next, err := j.ReadJournal(ctx, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ReadJournal next day: %v", err)
	}
	if len(next) != 1 || next[0].OrderID != 3 {
		t.Errorf("next day records = %+v", next)
	}

	empty, err := j.ReadJournal(ctx, day.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("ReadJournal empty day: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty day returned %d records", len(empty))
	}
}
