package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepSchedule = "@every 1h"

// CacheSweeper purge périodiquement les entrées durables expirées. La lecture
// supprime déjà une entrée expirée, le sweep couvre les pages jamais revisitées.
type CacheSweeper struct {
	logger   zerolog.Logger
	cache    *CacheManager
	schedule string

	Timeout time.Duration
}

func NewCacheSweeper(logger zerolog.Logger, cache *CacheManager, schedule string) (*CacheSweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &CacheSweeper{
		logger:   logger.With().Str("component", "cache_sweeper").Logger(),
		cache:    cache,
		schedule: schedule,
		Timeout:  2 * time.Minute,
	}, nil
}

// Run bloque jusqu'à l'annulation du contexte.
func (s *CacheSweeper) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.SweepOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("cache sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info().Msg("cache sweeper stopped")
	return nil
}

func (s *CacheSweeper) SweepOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := s.cache.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Int("purged", n).Msg("cache sweep failed")
		return n
	}
	if n > 0 {
		s.logger.Info().Int("purged", n).Msg("expired cache entries purged")
	}
	return n
}
