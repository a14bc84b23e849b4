package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

// CreateOrderRequest is a client's order placement.
type CreateOrderRequest struct {
	AccountID int64
	Type      domain.OrderType
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.NullDecimal // client hint, carried on the event only
	Fee       decimal.NullDecimal // defaults to the configured fee
}

// OrderService is order intake plus the synchronous order and position
// queries. It never calls a remote service.
type OrderService struct {
	orders    store.OrderStore
	positions store.PositionStore
	producer  *events.Producer
	risk      *RiskManager
	fee       decimal.Decimal
	now       func() time.Time
	log       *slog.Logger
}

// NewOrderService creates an OrderService. fee is charged on orders that do
// not carry one.
func NewOrderService(orders store.OrderStore, positions store.PositionStore, producer *events.Producer, risk *RiskManager, fee decimal.Decimal, log *slog.Logger) *OrderService {
	if log == nil {
		log = slog.Default()
	}
	return &OrderService{
		orders:    orders,
		positions: positions,
		producer:  producer,
		risk:      risk,
		fee:       fee,
		now:       time.Now,
		log:       log.With("component", "intake"),
	}
}

func (s *OrderService) validate(req *CreateOrderRequest) error {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	switch {
	case req.AccountID <= 0:
		return fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol is required", domain.ErrValidation)
	case !req.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	case req.Price.Valid && req.Price.Decimal.IsNegative():
		return fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	case req.Fee.Valid && req.Fee.Decimal.IsNegative():
		return fmt.Errorf("%w: fee must not be negative", domain.ErrValidation)
	}
	t, err := domain.ParseOrderType(string(req.Type))
	if err != nil {
		return err
	}
	req.Type = t
	return nil
}

// CreateOrder persists an open order and publishes OrderCreated. If the
// publish fails the order is cancelled and an ErrUnavailable error returned.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if err := s.risk.CheckOrder(ctx, req); err != nil {
		return nil, err
	}

	fee := s.fee
	if req.Fee.Valid {
		fee = req.Fee.Decimal
	}
	order := &domain.Order{
		Type:      req.Type,
		Status:    domain.OrderStatusOpen,
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Quantity:  req.Quantity,
		Fee:       fee,
		OpenDate:  s.now().UTC(),
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	if err := s.producer.Emit(ctx, events.NewOrderCreated(order, req.Price, s.now())); err != nil {
		s.log.Error("publishing OrderCreated failed, cancelling order", "orderId", order.ID, "error", err)
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		at := s.now().UTC()
		if _, cerr := s.orders.TransitionOrder(cctx, order.ID, []domain.OrderStatus{domain.OrderStatusOpen},
			func(o *domain.Order) { o.Cancel(at) }); cerr != nil {
			s.log.Error("cancelling unpublished order failed", "orderId", order.ID, "error", cerr)
		}
		return nil, fmt.Errorf("%w: publishing order %d: %v", domain.ErrUnavailable, order.ID, err)
	}

	s.log.Info("order placed",
		"orderId", order.ID,
		"accountId", order.AccountID,
		"orderType", order.Type,
		"symbol", order.Symbol,
		"quantity", order.Quantity,
	)
	return order, nil
}

// GetOrder returns the order if it belongs to accountID (0 = any account).
func (s *OrderService) GetOrder(ctx context.Context, id, accountID int64) (*domain.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if accountID != 0 && o.AccountID != accountID {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

// ListOrders returns the account's orders, newest first. An empty status
// matches all.
func (s *OrderService) ListOrders(ctx context.Context, accountID int64, status domain.OrderStatus) ([]domain.Order, error) {
	if accountID <= 0 {
		return nil, fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return s.orders.ListOrders(ctx, accountID, status)
}

// CancelOrder cancels an open order. Any other status is ErrInvalidState.
func (s *OrderService) CancelOrder(ctx context.Context, id, accountID int64) (*domain.Order, error) {
	if _, err := s.GetOrder(ctx, id, accountID); err != nil {
		return nil, err
	}

	var cancelled *domain.Order
	policy := util.RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
	err := util.RetryIf(ctx, policy, func(err error) bool { return errors.Is(err, domain.ErrConflict) }, func() error {
		at := s.now().UTC()
		o, err := s.orders.TransitionOrder(ctx, id, []domain.OrderStatus{domain.OrderStatusOpen},
			func(o *domain.Order) { o.Cancel(at) })
		if err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancelling order %d: %w", id, err)
	}
	s.log.Info("order cancelled by client", "orderId", id, "accountId", cancelled.AccountID)
	return cancelled, nil
}

// GetPosition returns the position if it belongs to accountID (0 = any
// account).
func (s *OrderService) GetPosition(ctx context.Context, id, accountID int64) (*domain.Position, error) {
	p, err := s.positions.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if accountID != 0 && p.AccountID != accountID {
		return nil, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ListPositions returns the account's positions, optionally in one symbol.
func (s *OrderService) ListPositions(ctx context.Context, accountID int64, symbol string) ([]domain.Position, error) {
	if accountID <= 0 {
		return nil, fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	}
	if symbol = domain.NormalizeSymbol(symbol); symbol != "" {
		return s.positions.ListPositionsBySymbol(ctx, accountID, symbol)
	}
	return s.positions.ListPositions(ctx, accountID)
}
