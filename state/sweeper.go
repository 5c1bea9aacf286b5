package state

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically reclaims expired state entries. Reads already
// treat expired entries as absent; the sweep only frees storage.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper ticking at the given interval.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.SweepExpiredState(ctx)
			if err != nil {
				s.logger.Error("state sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Debug("swept expired state entries", slog.Int("count", n))
			}
		}
	}
}
