package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// Compile-time interface checks.
var _ OrderStore = (*PostgresStore)(nil)
var _ PositionStore = (*PostgresStore)(nil)
var _ QuoteStore = (*PostgresStore)(nil)
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements the relational stores on PostgreSQL. Money is
// NUMERIC and crosses the driver boundary as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id              BIGSERIAL PRIMARY KEY,
	order_type      TEXT        NOT NULL,
	status          TEXT        NOT NULL,
	account_id      BIGINT      NOT NULL,
	symbol          TEXT        NOT NULL,
	quantity        NUMERIC     NOT NULL,
	price           NUMERIC,
	fee             NUMERIC     NOT NULL,
	open_date       TIMESTAMPTZ NOT NULL,
	completion_date TIMESTAMPTZ,
	position_id     BIGINT,
	version         BIGINT      NOT NULL DEFAULT 1,
	claimed_at      TIMESTAMPTZ
);
ALTER TABLE orders ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, open_date);

CREATE TABLE IF NOT EXISTS positions (
	id               BIGSERIAL PRIMARY KEY,
	account_id       BIGINT      NOT NULL,
	symbol           TEXT        NOT NULL,
	quantity         NUMERIC     NOT NULL,
	cost_basis_price NUMERIC     NOT NULL,
	acquired_at      TIMESTAMPTZ NOT NULL,
	order_id         BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id, symbol);

CREATE TABLE IF NOT EXISTS quotes (
	symbol       TEXT PRIMARY KEY,
	company_name TEXT             NOT NULL DEFAULT '',
	price        NUMERIC          NOT NULL,
	open_price   NUMERIC          NOT NULL,
	low_price    NUMERIC          NOT NULL,
	high_price   NUMERIC          NOT NULL,
	volume       DOUBLE PRECISION NOT NULL,
	price_change NUMERIC          NOT NULL,
	updated_at   TIMESTAMPTZ      NOT NULL
);
`

// NewPostgresStore connects to dsn, applies the schema, and returns a store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: applying schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const pgOrderColumns = `id, order_type, status, account_id, symbol, quantity::text, price::text, fee::text,
	open_date, completion_date, position_id, version, claimed_at`

// CreateOrder inserts a new order.
func (s *PostgresStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	o.Version = 1
	err := s.pool.QueryRow(ctx, `
		INSERT INTO orders (order_type, status, account_id, symbol, quantity, price, fee,
			open_date, completion_date, position_id, version, claimed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)
		RETURNING id`,
		string(o.Type), string(o.Status), o.AccountID, o.Symbol, o.Quantity.String(),
		pgNullDecimal(o.Price), o.Fee.String(), o.OpenDate, o.CompletionDate, o.PositionID, o.Version,
		o.ClaimedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("pg: inserting order: %w", err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanPgOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: selecting order %d: %w", id, err)
	}
	return o, nil
}

// ListOrders returns the account's orders, newest first.
func (s *PostgresStore) ListOrders(ctx context.Context, accountID int64, status domain.OrderStatus) ([]domain.Order, error) {
	if status == "" {
		return s.queryOrders(ctx,
			`SELECT `+pgOrderColumns+` FROM orders WHERE account_id = $1 ORDER BY id DESC`, accountID)
	}
	return s.queryOrders(ctx,
		`SELECT `+pgOrderColumns+` FROM orders WHERE account_id = $1 AND status = $2 ORDER BY id DESC`,
		accountID, string(status))
}

// ListStaleOrders returns orders in status claimed (or, if never claimed,
// opened) before cutoff.
func (s *PostgresStore) ListStaleOrders(ctx context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+pgOrderColumns+` FROM orders
		WHERE status = $1 AND COALESCE(claimed_at, open_date) < $2
		ORDER BY COALESCE(claimed_at, open_date)`,
		string(status), cutoff)
}

// TransitionOrder applies mutate under a status and version check.
func (s *PostgresStore) TransitionOrder(ctx context.Context, id int64, from []domain.OrderStatus, mutate func(*domain.Order)) (*domain.Order, error) {
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $1, price = $2::numeric, completion_date = $3, position_id = $4, version = $5,
			claimed_at = $8
		WHERE id = $6 AND version = $7`,
		string(next.Status), pgNullDecimal(next.Price), next.CompletionDate, next.PositionID,
		next.Version, id, cur.Version, next.ClaimedAt)
	if err != nil {
		return nil, fmt.Errorf("pg: updating order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("order %d version %d: %w", id, cur.Version, domain.ErrConflict)
	}
	return &next, nil
}

func (s *PostgresStore) queryOrders(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: selecting orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanPgOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

const pgPositionColumns = `id, account_id, symbol, quantity::text, cost_basis_price::text, acquired_at, order_id`

// CreatePosition inserts a new position.
func (s *PostgresStore) CreatePosition(ctx context.Context, p *domain.Position) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO positions (account_id, symbol, quantity, cost_basis_price, acquired_at, order_id)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
		RETURNING id`,
		p.AccountID, p.Symbol, p.Quantity.String(), p.CostBasisPrice.String(), p.AcquiredAt, p.OrderID,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("pg: inserting position: %w", err)
	}
	return nil
}

// GetPosition retrieves a single position by its ID.
func (s *PostgresStore) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPositionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPgPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: selecting position %d: %w", id, err)
	}
	return p, nil
}

// ListPositions returns every position owned by the account.
func (s *PostgresStore) ListPositions(ctx context.Context, accountID int64) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE account_id = $1 ORDER BY id`, accountID)
}

// ListPositionsBySymbol returns the account's positions in one symbol.
func (s *PostgresStore) ListPositionsBySymbol(ctx context.Context, accountID int64, symbol string) ([]domain.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE account_id = $1 AND symbol = $2 ORDER BY id`,
		accountID, domain.NormalizeSymbol(symbol))
}

func (s *PostgresStore) queryPositions(ctx context.Context, q string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: selecting positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPgPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scanning position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// QuoteStore implementation
// ---------------------------------------------------------------------------

const pgQuoteColumns = `symbol, company_name, price::text, open_price::text, low_price::text, high_price::text,
	volume, price_change::text, updated_at`

// GetQuote retrieves the quote for a symbol.
func (s *PostgresStore) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	row := s.pool.QueryRow(ctx, `SELECT `+pgQuoteColumns+` FROM quotes WHERE symbol = $1`, symbol)
	q, err := scanPgQuote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quote %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: selecting quote %s: %w", symbol, err)
	}
	return q, nil
}

// SaveQuote upserts the quote for q.Symbol.
func (s *PostgresStore) SaveQuote(ctx context.Context, q *domain.Quote) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quotes (symbol, company_name, price, open_price, low_price, high_price, volume, price_change, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7, $8::numeric, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			price        = EXCLUDED.price,
			open_price   = EXCLUDED.open_price,
			low_price    = EXCLUDED.low_price,
			high_price   = EXCLUDED.high_price,
			volume       = EXCLUDED.volume,
			price_change = EXCLUDED.price_change,
			updated_at   = EXCLUDED.updated_at`,
		q.Symbol, q.CompanyName, q.Price.String(), q.OpenPrice.String(), q.LowPrice.String(),
		q.HighPrice.String(), q.Volume, q.PriceChange.String(), q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: saving quote %s: %w", q.Symbol, err)
	}
	return nil
}

// ListQuotes returns all quotes ordered by symbol.
func (s *PostgresStore) ListQuotes(ctx context.Context) ([]domain.Quote, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgQuoteColumns+` FROM quotes ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("pg: selecting quotes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quote
	for rows.Next() {
		q, err := scanPgQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scanning quote: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

func scanPgOrder(r pgx.Row) (*domain.Order, error) {
	var (
		o           domain.Order
		typ, status string
		qty, fee    string
		price       *string
		completion  *time.Time
		claimed     *time.Time
	)
	if err := r.Scan(&o.ID, &typ, &status, &o.AccountID, &o.Symbol, &qty, &price, &fee,
		&o.OpenDate, &completion, &o.PositionID, &o.Version, &claimed); err != nil {
		return nil, err
	}
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.OpenDate = o.OpenDate.UTC()
	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, err
	}
	if o.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if price != nil {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, err
		}
		o.Price = decimal.NewNullDecimal(p)
	}
	if completion != nil {
		t := completion.UTC()
		o.CompletionDate = &t
	}
	if claimed != nil {
		t := claimed.UTC()
		o.ClaimedAt = &t
	}
	return &o, nil
}

func scanPgPosition(r pgx.Row) (*domain.Position, error) {
	var (
		p         domain.Position
		qty, cost string
	)
	if err := r.Scan(&p.ID, &p.AccountID, &p.Symbol, &qty, &cost, &p.AcquiredAt, &p.OrderID); err != nil {
		return nil, err
	}
	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, err
	}
	if p.CostBasisPrice, err = decimal.NewFromString(cost); err != nil {
		return nil, err
	}
	p.AcquiredAt = p.AcquiredAt.UTC()
	return &p, nil
}

func scanPgQuote(r pgx.Row) (*domain.Quote, error) {
	var (
		q                              domain.Quote
		price, open, low, high, change string
	)
	if err := r.Scan(&q.Symbol, &q.CompanyName, &price, &open, &low, &high, &q.Volume, &change, &q.UpdatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&q.Price, price}, {&q.OpenPrice, open}, {&q.LowPrice, low}, {&q.HighPrice, high}, {&q.PriceChange, change}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}
	q.UpdatedAt = q.UpdatedAt.UTC()
	return &q, nil
}

func pgNullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
