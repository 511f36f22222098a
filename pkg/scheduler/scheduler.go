// Package scheduler runs the background cache refresh sweep.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sgaunet/s3browse/pkg/config"
	"github.com/sgaunet/s3browse/pkg/pathtree"
)

const (
	defaultSchedule = "@every 5m"
	defaultFreshTTL = 5 * time.Minute
)

// Scheduler periodically marks long-Fresh cache nodes Stale so long-lived
// sessions converge with remote changes on next access.
type Scheduler struct {
	cron     *cron.Cron
	tree     *pathtree.Tree
	cfg      config.Config
	freshTTL time.Duration
	log      *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(cfg config.Config, tree *pathtree.Tree) *Scheduler {
	freshTTL := defaultFreshTTL
	if cfg.FreshTTL != "" {
		if d, err := time.ParseDuration(cfg.FreshTTL); err == nil && d > 0 {
			freshTTL = d
		}
	}
	return &Scheduler{
		cron:     cron.New(),
		tree:     tree,
		cfg:      cfg,
		freshTTL: freshTTL,
		log:      slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(log *slog.Logger) {
	s.log = log
}

// FreshTTL returns the configured maximum age of a Fresh listing.
func (s *Scheduler) FreshTTL() time.Duration {
	return s.freshTTL
}

// Start starts the scheduler and adds the sweep job.
func (s *Scheduler) Start() error {
	if !s.cfg.EnableBackgroundRefresh {
		s.log.Info("Background refresh is disabled")
		return nil
	}

	schedule := s.cfg.RefreshCronSchedule
	if schedule == "" {
		schedule = defaultSchedule
	}

	_, err := s.cron.AddFunc(schedule, func() {
		n := s.tree.StaleSweep(s.freshTTL)
		if n > 0 {
			s.log.Info("Refresh sweep marked listings stale", slog.Int("count", n))
		}
	})
	if err != nil {
		return err
	}

	s.log.Info("Starting scheduler", slog.String("schedule", schedule))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	s.cron.Stop()
}
