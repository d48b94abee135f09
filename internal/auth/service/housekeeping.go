package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/store"
)

// HousekeepingService periodically publishes how many refresh tokens are
// still usable. Rows are never deleted, so this is the only signal of
// session volume.
type HousekeepingService struct {
	Tokens   store.RefreshTokens
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 minute.
func NewHousekeepingService(
	tokens store.RefreshTokens,
	m *metrics.Metrics,
	logger *slog.Logger,
	interval time.Duration,
) *HousekeepingService {
	if interval <= 0 {
		interval = time.Minute
	}

	return &HousekeepingService{
		Tokens:   tokens,
		Metrics:  m,
		Logger:   logger,
		Interval: interval,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until the worker has finished any in-progress run.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce counts active refresh tokens and sets the gauge.
func (s *HousekeepingService) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Interval)
	defer cancel()

	n, err := s.Tokens.CountActiveRefreshTokens(ctx, s.Now().UTC())
	if err != nil {
		s.Logger.Error("failed to count active refresh tokens", "error", err)
		return
	}
	s.Metrics.ActiveRefreshTokens.Set(float64(n))
	s.Logger.Debug("housekeeping run completed", "active_refresh_tokens", n)
}
