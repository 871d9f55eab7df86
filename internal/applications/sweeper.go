package applications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweeperConfig configuration for the stalled-application sweeper
type SweeperConfig struct {
	Schedule   string        `json:"schedule"`
	StaleAfter time.Duration `json:"stale_after"`
	BatchSize  int           `json:"batch_size"`
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:   "0 */5 * * * *",
		StaleAfter: 15 * time.Minute,
		BatchSize:  50,
	}
}

type stalledReviewer interface {
	ReviewStalled(ctx context.Context, before time.Time, limit int) (int, error)
}

// Sweeper periodically hands applications left mid-pipeline, for example
// by a crash, to manual review
type Sweeper struct {
	cron     *cron.Cron
	reviewer stalledReviewer
	config   SweeperConfig
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a new sweeper
func NewSweeper(reviewer stalledReviewer, config SweeperConfig, logger *zap.Logger) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Sweeper{
		cron:     cron.New(cron.WithSeconds()),
		reviewer: reviewer,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Start schedules the sweep. ctx bounds every sweep run.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.config.Schedule, err)
	}

	s.logger.Info("Starting stalled application sweeper",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("stale_after", s.config.StaleAfter))
	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the sweeper and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.logger.Info("Stopping stalled application sweeper")
	<-s.cron.Stop().Done()
	s.running = false
}

// Sweep runs one pass and returns the number of applications moved
func (s *Sweeper) Sweep(ctx context.Context) int {
	before := s.now().UTC().Add(-s.config.StaleAfter)
	moved, err := s.reviewer.ReviewStalled(ctx, before, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Stalled application sweep failed", zap.Error(err))
	}
	if moved > 0 {
		s.logger.Info("Moved stalled applications to review", zap.Int("count", moved))
	}
	return moved
}
