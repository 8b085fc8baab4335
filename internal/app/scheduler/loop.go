package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/pkg/logger"
)

// Start runs the time-based trigger until Stop or ctx cancellation. Each tick
// settles withdrawals and runs every elapsed epoch after the newest
// distributed one. Without an interval Start does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.stop != nil {
		return ErrAlreadyRunning
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.loop(ctx, s.stop, s.stopped)
	s.logger.Info(ctx, "scheduler started", logger.Duration("interval", s.interval))
	return nil
}

// Stop ends the trigger loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.loopMu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.loopMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one trigger pass.
func (s *Scheduler) Tick(ctx context.Context) {
	if err := s.SettleWithdrawals(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error(ctx, "withdrawal settlement failed", logger.Error(err))
	}

	target, ok := s.LatestElapsed()
	if !ok {
		return
	}
	next := target
	latest, err := s.store.LatestEpochRun(ctx)
	switch {
	case err != nil:
		s.logger.Error(ctx, "load latest run", logger.Error(err))
		return
	case latest == nil:
	case !latest.Stage.Reached(model.StageDistributed):
		next = latest.EpochID
	default:
		next = latest.EpochID + 1
	}

	if next > target && latest != nil {
		// Nothing new elapsed; keep retrying what the newest epoch left open.
		next = latest.EpochID
	}
	for id := next; id <= target && ctx.Err() == nil; id++ {
		if _, err := s.RunEpoch(ctx, id); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn(ctx, "scheduled epoch run incomplete",
					logger.Uint64("epoch", id),
					logger.Error(err),
				)
			}
			return
		}
	}
}
