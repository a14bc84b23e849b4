// Package engine runs the order-fulfillment workflow: order intake, the
// orchestrator that prices, settles, and finalizes each order, the worker
// pool that feeds it from the bus, and the sweeper that recovers orders the
// bus lost.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"daytrader/internal/broker"
	"daytrader/internal/domain"
	"daytrader/internal/events"
	"daytrader/internal/store"
	"daytrader/internal/util"
)

// Options tunes the orchestrator.
type Options struct {
	// Compensate posts a reversing ledger adjustment when a step after the
	// ledger call fails.
	Compensate bool

	// PublishRetry bounds retries of the OrderCompleted publish.
	PublishRetry util.RetryPolicy

	// StaleOpenAfter is how long an order may stay open before Sweep
	// republishes its OrderCreated event.
	StaleOpenAfter time.Duration

	// StuckAfter is how long an order may stay processing before Sweep
	// cancels it.
	StuckAfter time.Duration
}

// Orchestrator drives each order from open to completed or cancelled. It
// never returns an error for a business failure; those become a
// cancellation plus a journal record.
type Orchestrator struct {
	orders    store.OrderStore
	positions store.PositionStore
	prices    broker.PriceSource
	ledger    broker.Ledger
	producer  *events.Producer
	journal   *Journal
	opts      Options
	now       func() time.Time
	log       *slog.Logger
}

// NewOrchestrator creates an Orchestrator wired with the given dependencies.
func NewOrchestrator(
	orders store.OrderStore,
	positions store.PositionStore,
	prices broker.PriceSource,
	ledger broker.Ledger,
	producer *events.Producer,
	journal *Journal,
	opts Options,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.PublishRetry.MaxAttempts < 1 {
		opts.PublishRetry = util.RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	}
	return &Orchestrator{
		orders:    orders,
		positions: positions,
		prices:    prices,
		ledger:    ledger,
		producer:  producer,
		journal:   journal,
		opts:      opts,
		now:       time.Now,
		log:       log.With("component", "orchestrator"),
	}
}

// Handle dispatches one order event. Only infrastructure failures that
// leave the order untouched are returned.
func (o *Orchestrator) Handle(ctx context.Context, ev events.OrderEvent) error {
	switch e := ev.(type) {
	case *events.OrderCreated:
		return o.process(ctx, e)
	case *events.OrderCompleted:
		o.log.Debug("order completion observed", "orderId", e.OrderID, "positionId", e.PositionID)
		return nil
	default:
		return fmt.Errorf("unhandled order event %T", ev)
	}
}

// settlement is the money a saga moved, kept for compensation.
type settlement struct {
	delta  decimal.Decimal
	reason string
}

func (o *Orchestrator) process(ctx context.Context, e *events.OrderCreated) error {
	log := o.log.With("orderId", e.OrderID, "accountId", e.AccountID, "symbol", e.Symbol)

	order, err := o.orders.TransitionOrder(ctx, e.OrderID, []domain.OrderStatus{domain.OrderStatusOpen},
		func(ord *domain.Order) { ord.Claim(o.now().UTC()) })
	switch {
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		log.Warn("duplicate delivery skipped", "error", err)
		o.record(e.OrderID, e.AccountID, e.Symbol, domain.StepClaim, domain.OutcomeSkipped, "", err.Error())
		return nil
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("event for unknown order", "error", err)
		o.record(e.OrderID, e.AccountID, e.Symbol, domain.StepClaim, domain.OutcomeFailed, "", err.Error())
		return nil
	case err != nil:
		return fmt.Errorf("claiming order %d: %w", e.OrderID, err)
	}
	log.Debug("order claimed", "version", order.Version)

	// A claimed order runs to an outcome even when shutdown starts; each
	// remote call below carries its own timeout.
	ctx = context.WithoutCancel(ctx)

	price, err := o.prices.Price(ctx, order.Symbol)
	if err != nil {
		o.fail(ctx, order, domain.StepPrice, err, nil)
		return nil
	}
	log.Debug("price obtained", "price", price)

	amount, err := domain.Settlement(order.Type, order.Quantity, price, order.Fee)
	if err != nil {
		o.fail(ctx, order, domain.StepPrice, err, nil)
		return nil
	}
	moved := &settlement{delta: domain.LedgerDelta(order.Type, amount), reason: order.Reason()}
	if _, err := o.ledger.Adjust(ctx, order.AccountID, moved.delta, moved.reason); err != nil {
		o.fail(ctx, order, domain.StepLedger, err, nil)
		return nil
	}
	o.record(order.ID, order.AccountID, order.Symbol, domain.StepLedger, domain.OutcomeApplied, moved.delta.String(), moved.reason)

	at := o.now().UTC()
	var positionID *int64
	if order.Type == domain.OrderTypeBuy {
		pos := &domain.Position{
			AccountID:      order.AccountID,
			Symbol:         order.Symbol,
			Quantity:       order.Quantity,
			CostBasisPrice: price,
			AcquiredAt:     at,
			OrderID:        order.ID,
		}
		if err := o.positions.CreatePosition(ctx, pos); err != nil {
			o.fail(ctx, order, domain.StepPosition, err, moved)
			return nil
		}
		positionID = &pos.ID
		log.Debug("position created", "positionId", pos.ID)
	}

	done, err := o.orders.TransitionOrder(ctx, order.ID, []domain.OrderStatus{domain.OrderStatusProcessing},
		func(ord *domain.Order) { ord.Complete(price, at, positionID) })
	if err != nil {
		o.fail(ctx, order, domain.StepComplete, err, moved)
		return nil
	}

	log.Info("order completed",
		"orderType", done.Type,
		"quantity", done.Quantity,
		"price", price,
		"amount", amount,
	)
	o.record(done.ID, done.AccountID, done.Symbol, domain.StepComplete, domain.OutcomeCompleted, moved.delta.String(), "")
	o.publishCompleted(ctx, done, log)
	return nil
}

func (o *Orchestrator) publishCompleted(ctx context.Context, done *domain.Order, log *slog.Logger) {
	ev, err := events.NewOrderCompleted(done, o.now())
	if err == nil {
		err = util.RetryIf(ctx, o.opts.PublishRetry, nil, func() error {
			return o.producer.Emit(ctx, ev)
		})
	}
	if err != nil {
		log.Error("publishing completion failed", "error", err)
		o.record(done.ID, done.AccountID, done.Symbol, domain.StepPublish, domain.OutcomeFailed, "", err.Error())
	}
}

// fail compensates if configured and moved is set, then cancels the order.
// It runs on a context detached from ctx so a shutdown does not strand the
// order half-finished.
func (o *Orchestrator) fail(ctx context.Context, order *domain.Order, step domain.SagaStep, cause error, moved *settlement) {
	log := o.log.With("orderId", order.ID, "accountId", order.AccountID, "symbol", order.Symbol)
	log.Warn("order step failed", "step", step, "error", cause)
	o.record(order.ID, order.AccountID, order.Symbol, step, domain.OutcomeFailed, "", cause.Error())

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if moved != nil && o.opts.Compensate {
		reversal := moved.reason + "_REVERSAL"
		if _, err := o.ledger.Adjust(cctx, order.AccountID, moved.delta.Neg(), reversal); err != nil {
			log.Error("compensation failed", "reason", reversal, "error", err)
			o.record(order.ID, order.AccountID, order.Symbol, domain.StepCompensate, domain.OutcomeFailed, moved.delta.Neg().String(), err.Error())
		} else {
			log.Info("compensation posted", "reason", reversal, "amount", moved.delta.Neg())
			o.record(order.ID, order.AccountID, order.Symbol, domain.StepCompensate, domain.OutcomeApplied, moved.delta.Neg().String(), reversal)
		}
	}

	at := o.now().UTC()
	_, err := o.orders.TransitionOrder(cctx, order.ID,
		[]domain.OrderStatus{domain.OrderStatusOpen, domain.OrderStatusProcessing},
		func(ord *domain.Order) { ord.Cancel(at) })
	if err != nil {
		log.Error("cancelling order failed", "error", err)
		o.record(order.ID, order.AccountID, order.Symbol, domain.StepCancel, domain.OutcomeFailed, "", err.Error())
		return
	}
	log.Warn("order cancelled", "step", step)
	o.record(order.ID, order.AccountID, order.Symbol, domain.StepCancel, domain.OutcomeCancelled, "", fmt.Sprintf("%s: %v", step, cause))
}

func (o *Orchestrator) record(orderID, accountID int64, symbol string, step domain.SagaStep, outcome domain.SagaOutcome, amount, detail string) {
	o.journal.Record(domain.SagaRecord{
		OrderID:   orderID,
		AccountID: accountID,
		Symbol:    symbol,
		Step:      step,
		Outcome:   outcome,
		Amount:    amount,
		Detail:    detail,
		Time:      o.now().UTC(),
	})
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Republished int
	Cancelled   int
}

// Sweep republishes OrderCreated for orders open longer than StaleOpenAfter
// and cancels orders processing longer than StuckAfter. Open orders age from
// their open date, processing orders from their claim. A zero threshold
// disables that half.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	if o.opts.StaleOpenAfter > 0 {
		stale, err := o.orders.ListStaleOrders(ctx, domain.OrderStatusOpen, now.Add(-o.opts.StaleOpenAfter))
		if err != nil {
			return res, fmt.Errorf("listing stale open orders: %w", err)
		}
		for i := range stale {
			ord := &stale[i]
			if err := o.producer.Emit(ctx, events.NewOrderCreated(ord, decimal.NullDecimal{}, now)); err != nil {
				return res, fmt.Errorf("republishing order %d: %w", ord.ID, err)
			}
			res.Republished++
			o.record(ord.ID, ord.AccountID, ord.Symbol, domain.StepSweep, domain.OutcomeApplied, "", "republished OrderCreated")
		}
	}

	if o.opts.StuckAfter > 0 {
		stuck, err := o.orders.ListStaleOrders(ctx, domain.OrderStatusProcessing, now.Add(-o.opts.StuckAfter))
		if err != nil {
			return res, fmt.Errorf("listing stuck orders: %w", err)
		}
		at := now.UTC()
		for i := range stuck {
			ord := &stuck[i]
			_, err := o.orders.TransitionOrder(ctx, ord.ID, []domain.OrderStatus{domain.OrderStatusProcessing},
				func(x *domain.Order) { x.Cancel(at) })
			if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrConflict) {
				continue
			}
			if err != nil {
				return res, fmt.Errorf("cancelling stuck order %d: %w", ord.ID, err)
			}
			res.Cancelled++
			o.log.Warn("stuck order cancelled", "orderId", ord.ID, "claimedAt", ord.ClaimedAt)
			o.record(ord.ID, ord.AccountID, ord.Symbol, domain.StepSweep, domain.OutcomeCancelled, "", "stuck in processing")
		}
	}

	if res.Republished > 0 || res.Cancelled > 0 {
		o.log.Info("sweep finished", "republished", res.Republished, "cancelled", res.Cancelled)
	}
	return res, nil
}
