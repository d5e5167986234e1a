package news

import (
	"context"
	"time"

	"ml-crypto-trader/internal/logger"
	"ml-crypto-trader/internal/types"
)

// Scheduler refreshes sentiment for a set of symbols on a fixed
// interval and publishes each fresh reading on Updates. Consumers that
// fall behind lose readings rather than blocking the refresh loop.
type Scheduler struct {
	service  *Service
	symbols  []string
	interval time.Duration
	updates  chan types.NewsSentiment
}

func NewScheduler(service *Service, symbols []string, interval time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		symbols:  symbols,
		interval: interval,
		updates:  make(chan types.NewsSentiment, len(symbols)*2),
	}
}

// Updates delivers refreshed sentiment readings.
func (s *Scheduler) Updates() <-chan types.NewsSentiment {
	return s.updates
}

// Run refreshes all symbols immediately, then on every tick until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info(ctx, "News scheduler started",
		"symbols", len(s.symbols), "interval", s.interval.String())

	s.refreshAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "News scheduler stopped")
			close(s.updates)
			return
		case <-ticker.C:
			s.refreshAll(ctx)
			s.service.cache.prune()
		}
	}
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	for _, symbol := range s.symbols {
		sentiment, err := s.service.Refresh(ctx, symbol)
		if err != nil {
			logger.ErrorWithErr(ctx, "Scheduled sentiment refresh failed", err, "symbol", symbol)
			continue
		}
		select {
		case s.updates <- sentiment:
		default:
			logger.Warn(ctx, "Sentiment update dropped, consumer behind", "symbol", symbol)
		}
	}
}
