package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daytrader/internal/bus"
	"daytrader/internal/domain"
	"daytrader/internal/events"
)

// Handler processes one decoded order event.
type Handler interface {
	Handle(ctx context.Context, ev events.OrderEvent) error
}

// Pool consumes the orders channel with a fixed number of workers. Every
// message is acknowledged after handling, including ones that fail to
// decode or panic, so one bad payload cannot stall the group.
type Pool struct {
	sub     bus.Subscriber
	handler Handler
	group   string
	workers int
	journal *Journal
	log     *slog.Logger
}

// NewPool creates a Pool reading ChannelOrders under consumer group.
func NewPool(sub bus.Subscriber, h Handler, group string, workers int, journal *Journal, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		sub:     sub,
		handler: h,
		group:   group,
		workers: workers,
		journal: journal,
		log:     log.With("component", "pool", "group", group),
	}
}

// Run subscribes and blocks until ctx is done or the subscription ends.
func (p *Pool) Run(ctx context.Context) error {
	msgs, err := p.sub.Subscribe(ctx, events.ChannelOrders, p.group)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", events.ChannelOrders, err)
	}
	p.log.Info("worker pool started", "workers", p.workers)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for msg := range msgs {
				p.handle(ctx, id, msg)
			}
		}(w)
	}
	wg.Wait()

	p.log.Info("worker pool stopped")
	return nil
}

func (p *Pool) handle(ctx context.Context, worker int, msg bus.Message) {
	start := time.Now()
	defer func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := msg.Ack(actx); err != nil {
			p.log.Warn("ack failed", "messageId", msg.ID, "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", "worker", worker, "messageId", msg.ID, "panic", r)
			p.journal.Record(domain.SagaRecord{
				Step:    domain.StepDecode,
				Outcome: domain.OutcomeFailed,
				Detail:  fmt.Sprintf("panic on message %s: %v", msg.ID, r),
			})
		}
	}()

	ev, err := events.DecodeOrderEvent(msg.Payload)
	if err != nil {
		p.log.Warn("poisoned message", "messageId", msg.ID, "error", err)
		p.journal.Record(domain.SagaRecord{
			Step:    domain.StepDecode,
			Outcome: domain.OutcomeFailed,
			Detail:  fmt.Sprintf("message %s: %v", msg.ID, err),
		})
		return
	}

	if err := p.handler.Handle(ctx, ev); err != nil {
		p.log.Error("handling order event failed",
			"worker", worker,
			"messageId", msg.ID,
			"orderId", ev.OrderRef(),
			"error", err,
		)
		return
	}
	p.log.Debug("order event handled",
		"worker", worker,
		"orderId", ev.OrderRef(),
		"eventType", ev.EventHeader().Type,
		"elapsed", time.Since(start),
	)
}
