// Package scheduler runs the fixed-interval tick loops and the daily
// database maintenance.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/config"
)

// Purger removes rows that are no longer needed.
type Purger interface {
	PurgeExpiredBans(ctx context.Context, now time.Time) (int64, error)
	PurgeAppliedCommands(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs daily maintenance against the store.
type Scheduler struct {
	cfg    config.MaintenanceConfig
	store  Purger
	now    func() time.Time
	purges int
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.MaintenanceConfig, store Purger) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Start runs maintenance at the configured time each day until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Info().Msg("daily maintenance disabled")
		return
	}
	log.Info().Str("purge_time", s.cfg.PurgeTime).Msg("scheduler started")

	for {
		next := NextRun(s.now(), s.cfg.PurgeTime)
		sleep := next.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}
		log.Info().Time("next_run", next).Dur("sleep", sleep).Msg("maintenance scheduled")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			if err := s.RunMaintenance(ctx); err != nil {
				log.Error().Err(err).Msg("maintenance failed")
			}
		}
	}
}

// RunMaintenance purges expired bans and pending commands applied before
// the retention window.
func (s *Scheduler) RunMaintenance(ctx context.Context) error {
	now := s.now()

	bans, err := s.store.PurgeExpiredBans(ctx, now)
	if err != nil {
		return fmt.Errorf("purge bans: %w", err)
	}

	retention := time.Duration(s.cfg.AppliedRetentionDays) * 24 * time.Hour
	commands, err := s.store.PurgeAppliedCommands(ctx, now.Add(-retention))
	if err != nil {
		return fmt.Errorf("purge pending commands: %w", err)
	}

	s.purges++
	log.Info().
		Int64("bans", bans).
		Int64("commands", commands).
		Msg("maintenance completed")
	return nil
}

// NextRun returns the next occurrence of hh:mm after now, in now's
// location. A malformed time falls back to 04:00.
func NextRun(now time.Time, hhmm string) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(hhmm, ":")
	if len(parts) == 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
