// Package maintenance runs periodic housekeeping over the license store.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ExpiryStore defines the interface for the expiry sweep data access.
type ExpiryStore interface {
	ExpireOverdueLicenses(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryScheduler periodically flips overdue active licenses to expired so
// trials age out even when the client never calls verify again. Verify
// performs the same transition lazily per key; the sweep is hygiene, not
// correctness.
type ExpiryScheduler struct {
	store   ExpiryStore
	cron    *cron.Cron
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// NewExpiryScheduler creates a new expiry sweep scheduler.
func NewExpiryScheduler(store ExpiryStore, logger zerolog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		store:  store,
		cron:   cron.New(),
		logger: logger.With().Str("component", "expiry_sweep").Logger(),
	}
}

// Start begins the hourly expiry sweep.
func (s *ExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("expiry scheduler already running")
	}

	if _, err := s.cron.AddFunc("@hourly", s.runSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Msg("expiry scheduler started (hourly)")
	return nil
}

// Stop stops the expiry scheduler gracefully.
func (s *ExpiryScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping expiry scheduler")
	return s.cron.Stop()
}

// runSweep executes one expiry pass.
func (s *ExpiryScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.store.ExpireOverdueLicenses(ctx, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}

	if expired > 0 {
		s.logger.Info().Int64("expired", expired).Msg("expiry sweep completed")
	}
}

// RunNow triggers an immediate sweep (useful for testing and the admin CLI).
func (s *ExpiryScheduler) RunNow() {
	s.runSweep()
}
