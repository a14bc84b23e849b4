package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"daytrader/internal/domain"
	"daytrader/internal/store"
)

// Journal buffers saga records and flushes them to a JournalStore in
// batches. A Journal with a nil store only logs.
type Journal struct {
	store store.JournalStore
	log   *slog.Logger

	mu      sync.Mutex
	pending []domain.SagaRecord
}

// NewJournal creates a Journal writing to s.
func NewJournal(s store.JournalStore, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{store: s, log: log}
}

// Record queues rec for the next flush.
func (j *Journal) Record(rec domain.SagaRecord) {
	if j == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	j.log.Debug("saga step",
		"orderId", rec.OrderID,
		"step", rec.Step,
		"outcome", rec.Outcome,
		"detail", rec.Detail,
	)
	if j.store == nil {
		return
	}
	j.mu.Lock()
	j.pending = append(j.pending, rec)
	j.mu.Unlock()
}

// Flush writes queued records. Records are dropped from the queue only when
// the write succeeds.
func (j *Journal) Flush(ctx context.Context) error {
	if j == nil || j.store == nil {
		return nil
	}
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := j.store.AppendJournal(ctx, batch); err != nil {
		j.mu.Lock()
		j.pending = append(batch, j.pending...)
		j.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (j *Journal) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := j.Flush(fctx); err != nil {
				j.log.Error("final journal flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := j.Flush(ctx); err != nil {
				j.log.Warn("journal flush failed", "error", err)
			}
		}
	}
}
