package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)
var _ QuoteStore = (*SQLiteStore)(nil)
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements OrderStore, PositionStore, and QuoteStore backed by
// a SQLite database. Timestamps are stored as Unix milliseconds and money as
// decimal text.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	order_type      TEXT    NOT NULL,
	status          TEXT    NOT NULL,
	account_id      INTEGER NOT NULL,
	symbol          TEXT    NOT NULL,
	quantity        TEXT    NOT NULL,
	price           TEXT,
	fee             TEXT    NOT NULL,
	open_date       INTEGER NOT NULL,
	completion_date INTEGER,
	position_id     INTEGER,
	version         INTEGER NOT NULL DEFAULT 1,
	claimed_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, open_date);

CREATE TABLE IF NOT EXISTS positions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id       INTEGER NOT NULL,
	symbol           TEXT    NOT NULL,
	quantity         TEXT    NOT NULL,
	cost_basis_price TEXT    NOT NULL,
	acquired_at      INTEGER NOT NULL,
	order_id         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id, symbol);

CREATE TABLE IF NOT EXISTS quotes (
	symbol       TEXT PRIMARY KEY,
	company_name TEXT NOT NULL DEFAULT '',
	price        TEXT NOT NULL,
	open_price   TEXT NOT NULL,
	low_price    TEXT NOT NULL,
	high_price   TEXT NOT NULL,
	volume       REAL NOT NULL,
	price_change TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer keeps SQLite free of SQLITE_BUSY under worker load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	if err := addColumnIfMissing(db, "orders", "claimed_at", "INTEGER"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// addColumnIfMissing adds column to tables created before it existed.
func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspecting %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	rows.Close()
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, typ)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, order_type, status, account_id, symbol, quantity, price, fee,
	open_date, completion_date, position_id, version, claimed_at`

// CreateOrder inserts a new order into the database.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	o.Version = 1
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_type, status, account_id, symbol, quantity, price, fee,
			open_date, completion_date, position_id, version, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(o.Type), string(o.Status), o.AccountID, o.Symbol, o.Quantity.String(),
		nullDecimalArg(o.Price), o.Fee.String(), o.OpenDate.UnixMilli(),
		nullTimeArg(o.CompletionDate), nullInt64Arg(o.PositionID), o.Version, nullTimeArg(o.ClaimedAt))
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading order id: %w", err)
	}
	o.ID = id
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanSQLiteOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting order %d: %w", id, err)
	}
	return o, nil
}

// ListOrders returns the account's orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, accountID int64, status domain.OrderStatus) ([]domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE account_id = ?`
	args := []any{accountID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id DESC`
	return s.queryOrders(ctx, q, args...)
}

// ListStaleOrders returns orders in status claimed (or, if never claimed,
// opened) before cutoff.
func (s *SQLiteStore) ListStaleOrders(ctx context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND COALESCE(claimed_at, open_date) < ?
		ORDER BY COALESCE(claimed_at, open_date)`,
		string(status), cutoff.UnixMilli())
}

// TransitionOrder applies mutate under a status and version check.
func (s *SQLiteStore) TransitionOrder(ctx context.Context, id int64, from []domain.OrderStatus, mutate func(*domain.Order)) (*domain.Order, error) {
	cur, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(cur.Status, from) {
		return cur, fmt.Errorf("order %d is %s: %w", id, cur.Status, domain.ErrInvalidState)
	}

	next := *cur
	mutate(&next)
	next.ID, next.Version = cur.ID, cur.Version+1

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, price = ?, completion_date = ?, position_id = ?, version = ?,
			claimed_at = ?
		WHERE id = ? AND version = ?`,
		string(next.Status), nullDecimalArg(next.Price), nullTimeArg(next.CompletionDate),
		nullInt64Arg(next.PositionID), next.Version, nullTimeArg(next.ClaimedAt), id, cur.Version)
	if err != nil {
		return nil, fmt.Errorf("updating order %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating order %d: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("order %d version %d: %w", id, cur.Version, domain.ErrConflict)
	}
	return &next, nil
}

func (s *SQLiteStore) queryOrders(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

const positionColumns = `id, account_id, symbol, quantity, cost_basis_price, acquired_at, order_id`

// CreatePosition inserts a new position.
func (s *SQLiteStore) CreatePosition(ctx context.Context, p *domain.Position) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (account_id, symbol, quantity, cost_basis_price, acquired_at, order_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.AccountID, p.Symbol, p.Quantity.String(), p.CostBasisPrice.String(),
		p.AcquiredAt.UnixMilli(), p.OrderID)
	if err != nil {
		return fmt.Errorf("inserting position: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading position id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPosition retrieves a single position by its ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanSQLitePosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting position %d: %w", id, err)
	}
	return p, nil
}

// ListPositions returns every position owned by the account.
func (s *SQLiteStore) ListPositions(ctx context.Context, accountID int64) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = ? ORDER BY id`, accountID)
}

// ListPositionsBySymbol returns the account's positions in one symbol.
func (s *SQLiteStore) ListPositionsBySymbol(ctx context.Context, accountID int64, symbol string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = ? AND symbol = ? ORDER BY id`,
		accountID, domain.NormalizeSymbol(symbol))
}

func (s *SQLiteStore) queryPositions(ctx context.Context, q string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanSQLitePosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// QuoteStore implementation
// ---------------------------------------------------------------------------

const quoteColumns = `symbol, company_name, price, open_price, low_price, high_price, volume, price_change, updated_at`

// GetQuote retrieves the quote for a symbol.
func (s *SQLiteStore) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	row := s.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE symbol = ?`, symbol)
	q, err := scanSQLiteQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quote %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting quote %s: %w", symbol, err)
	}
	return q, nil
}

// SaveQuote inserts or replaces the quote for q.Symbol.
func (s *SQLiteStore) SaveQuote(ctx context.Context, q *domain.Quote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO quotes (`+quoteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Symbol, q.CompanyName, q.Price.String(), q.OpenPrice.String(), q.LowPrice.String(),
		q.HighPrice.String(), q.Volume, q.PriceChange.String(), q.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving quote %s: %w", q.Symbol, err)
	}
	return nil
}

// ListQuotes returns all quotes ordered by symbol.
func (s *SQLiteStore) ListQuotes(ctx context.Context) ([]domain.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+quoteColumns+` FROM quotes ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("selecting quotes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quote
	for rows.Next() {
		q, err := scanSQLiteQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteOrder(r rowScanner) (*domain.Order, error) {
	var (
		o                      domain.Order
		typ, status            string
		qty, fee               string
		price                  sql.NullString
		openMs                 int64
		completionMs, position sql.NullInt64
		claimedMs              sql.NullInt64
	)
	if err := r.Scan(&o.ID, &typ, &status, &o.AccountID, &o.Symbol, &qty, &price, &fee,
		&openMs, &completionMs, &position, &o.Version, &claimedMs); err != nil {
		return nil, err
	}
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.OpenDate = time.UnixMilli(openMs).UTC()
	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("order %d quantity: %w", o.ID, err)
	}
	if o.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("order %d fee: %w", o.ID, err)
	}
	if price.Valid {
		p, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("order %d price: %w", o.ID, err)
		}
		o.Price = decimal.NewNullDecimal(p)
	}
	if completionMs.Valid {
		t := time.UnixMilli(completionMs.Int64).UTC()
		o.CompletionDate = &t
	}
	if position.Valid {
		pid := position.Int64
		o.PositionID = &pid
	}
	if claimedMs.Valid {
		t := time.UnixMilli(claimedMs.Int64).UTC()
		o.ClaimedAt = &t
	}
	return &o, nil
}

func scanSQLitePosition(r rowScanner) (*domain.Position, error) {
	var (
		p          domain.Position
		qty, cost  string
		acquiredMs int64
	)
	if err := r.Scan(&p.ID, &p.AccountID, &p.Symbol, &qty, &cost, &acquiredMs, &p.OrderID); err != nil {
		return nil, err
	}
	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("position %d quantity: %w", p.ID, err)
	}
	if p.CostBasisPrice, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("position %d cost basis: %w", p.ID, err)
	}
	p.AcquiredAt = time.UnixMilli(acquiredMs).UTC()
	return &p, nil
}

func scanSQLiteQuote(r rowScanner) (*domain.Quote, error) {
	var (
		q                              domain.Quote
		price, open, low, high, change string
		updatedMs                      int64
	)
	if err := r.Scan(&q.Symbol, &q.CompanyName, &price, &open, &low, &high, &q.Volume, &change, &updatedMs); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&q.Price, price}, {&q.OpenPrice, open}, {&q.LowPrice, low}, {&q.HighPrice, high}, {&q.PriceChange, change}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", q.Symbol, err)
		}
		*f.dst = d
	}
	q.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &q, nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullInt64Arg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
