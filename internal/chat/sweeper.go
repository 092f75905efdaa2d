package chat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/clock"
	"github.com/eldtechnologies/batepapo/internal/metrics"
)

const (
	DefaultSweepInterval = 15 * time.Second
	DefaultStaleAfter    = 10 * time.Second
)

// SweeperConfig holds the sweeper timings. Zero values use the defaults.
type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// Sweeper periodically evicts participants that stopped sending heartbeats.
type Sweeper struct {
	registry   *Registry
	clock      clock.Clock
	logger     zerolog.Logger
	interval   time.Duration
	staleAfter time.Duration

	running atomic.Bool
}

// NewSweeper creates a sweeper over registry.
func NewSweeper(registry *Registry, c clock.Clock, logger zerolog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Sweeper{
		registry:   registry,
		clock:      c,
		logger:     logger.With().Str("component", "sweeper").Logger(),
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAfter).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction pass. It returns false without touching the store
// when another pass is still in progress.
func (s *Sweeper) Sweep(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.WithLabelValues("in_progress").Inc()
		s.logger.Warn().Msg("previous sweep still running, skipping")
		return false
	}
	defer s.running.Store(false)

	log := s.logger.With().Str("sweep_id", uuid.NewString()).Logger()
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	evicted, err := s.registry.ExpireStale(ctx, s.staleAfter, s.clock.Now())
	if err != nil {
		metrics.SweepsSkipped.WithLabelValues("store_error").Inc()
		log.Error().Err(err).Int("evicted", len(evicted)).Msg("sweep failed")
		return true
	}

	event := log.Debug()
	if len(evicted) > 0 {
		event = log.Info()
	}
	event.Int("evicted", len(evicted)).Dur("took", time.Since(start)).Msg("sweep complete")
	return true
}
