package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"daytrader/internal/domain"
)

// SnapshotSource fetches current session quotes for a set of symbols.
type SnapshotSource interface {
	Snapshots(ctx context.Context, symbols []string) ([]domain.Quote, error)
}

// Poller periodically copies snapshots from an external source into the
// quote service, which persists them and emits QuoteUpdated.
type Poller struct {
	src        SnapshotSource
	svc        *Service
	symbols    []string
	interval   time.Duration
	marketOnly bool
	log        *slog.Logger
}

// NewPoller creates a Poller for symbols. With marketOnly set, polls are
// skipped while the US market is closed.
func NewPoller(src SnapshotSource, svc *Service, symbols []string, interval time.Duration, marketOnly bool, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		src:        src,
		svc:        svc,
		symbols:    symbols,
		interval:   interval,
		marketOnly: marketOnly,
		log:        log.With("component", "quote-poller"),
	}
}

// PollOnce fetches one round of snapshots and applies them. It returns how
// many quotes were applied; a bad snapshot is logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	quotes, err := p.src.Snapshots(ctx, p.symbols)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, q := range quotes {
		if _, err := p.svc.ApplySnapshot(ctx, q); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				p.log.Warn("skipping snapshot", "symbol", q.Symbol, "error", err)
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Run polls every interval until ctx is done. Fetch errors are logged and
// the next tick tries again.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("quote poller started", "symbols", len(p.symbols), "every", p.interval, "marketOnly", p.marketOnly)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("quote poller stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if p.marketOnly && !p.svc.calendar.IsMarketOpen(p.svc.now()) {
		p.log.Debug("market closed, skipping poll")
		return
	}
	start := time.Now()
	n, err := p.PollOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("poll failed", "error", err)
		}
		return
	}
	p.log.Debug("poll complete", "applied", n, "elapsed", time.Since(start).Round(time.Millisecond))
}
