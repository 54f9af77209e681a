// Package sweeper runs the periodic hold expiry pass. It is the safety net
// behind the lazy expiry done on the write path: even with zero traffic,
// expired holds return to the pool within one sweep interval.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/vintora/tablebook/internal/service/hold"
)

type Sweeper struct {
	holds    *hold.Service
	logger   *slog.Logger
	interval time.Duration
}

func New(holds *hold.Service, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Sweeper{
		holds:    holds,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps until ctx is canceled. It performs one pass immediately so a
// restart does not leave stale holds waiting a full interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("hold sweeper started", "interval", s.interval.String())

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("hold sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.holds.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("hold expiry pass failed", "error", err)
		return
	}

	if n > 0 {
		s.logger.Info("expired stale holds", "count", n)
	}
}
