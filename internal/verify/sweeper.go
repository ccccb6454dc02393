package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ExpiredChallengeStore interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically removes challenges that expired more than retention
// ago. Until then an expired challenge still answers with code-expired and
// still counts towards the per-number rate limit, so retention must not be
// shorter than the rate window.
type Sweeper struct {
	store     ExpiredChallengeStore
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(store ExpiredChallengeStore, interval, retention time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("Sweeper.SweepOnce: %w", err)
	}

	if n > 0 {
		s.logger.Info("expired challenges removed", zap.Int64("count", n))
	}

	return n, nil
}

// Run sweeps every interval until ctx is done. A failed sweep is logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("challenge sweep failed", zap.Error(err))
			}
		}
	}
}
