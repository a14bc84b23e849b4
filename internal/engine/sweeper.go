package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jasonlvhit/gocron"
)

// Sweeper runs Orchestrator.Sweep on a fixed schedule.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
	now      func() time.Time
	running  atomic.Bool
	log      *slog.Logger
}

// NewSweeper creates a Sweeper. Intervals under a second round up to one.
func NewSweeper(orch *Orchestrator, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		orch:     orch,
		interval: interval,
		now:      time.Now,
		log:      log.With("component", "sweeper"),
	}
}

// RunOnce performs one sweep unless another is still in progress.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, bool) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepResult{}, false
	}
	defer s.running.Store(false)

	res, err := s.orch.Sweep(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", "error", err)
	}
	return res, true
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	secs := uint64(s.interval / time.Second)
	if secs == 0 {
		secs = 1
	}
	sched := gocron.NewScheduler()
	sched.Every(secs).Seconds().Do(func() { s.RunOnce(ctx) })
	stop := sched.Start()
	s.log.Info("sweeper started", "every", time.Duration(secs)*time.Second)

	<-ctx.Done()
	stop <- true
	sched.Clear()
}
