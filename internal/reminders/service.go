package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"homestyle/internal/events"
	"homestyle/internal/metrics"
	"homestyle/internal/model"
)

// Store finds bookings due a reminder and claims them.
type Store interface {
	UpcomingUnreminded(ctx context.Context, from, to time.Time) ([]model.Booking, error)
	MarkReminded(ctx context.Context, bookingID int64, at time.Time) (bool, error)
}

// Publisher delivers the reminder event to the notification sinks.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Config holds configuration for the reminder service.
type Config struct {
	// Lead is how far ahead of the appointment the reminder goes out.
	Lead time.Duration
	// CheckInterval is how often to look for due reminders.
	CheckInterval time.Duration
	// RatePerSecond and Burst bound the publish rate of one sweep.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Lead:          24 * time.Hour,
		CheckInterval: 5 * time.Minute,
		RatePerSecond: 20,
		Burst:         30,
	}
}

// Service publishes a booking_reminder event once per confirmed booking
// when its start enters the lead window.
type Service struct {
	cfg       Config
	store     Store
	publisher Publisher
	limiter   *rate.Limiter
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewService creates a new reminder service. Zero config fields take defaults.
func NewService(cfg Config, store Store, publisher Publisher, logger *zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Lead <= 0 {
		cfg.Lead = def.Lead
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	return &Service{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		now:       time.Now,
		logger:    logger.With().Str("component", "reminders").Logger(),
	}
}

// Start runs a sweep immediately and then every CheckInterval until ctx is
// done. A second call while running is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Dur("lead", s.cfg.Lead).
		Dur("check_interval", s.cfg.CheckInterval).
		Msg("reminder service started")

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder service stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	if _, err := s.CheckNow(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("reminder sweep failed")
	}
}

// CheckNow publishes reminders for every booking currently due one and
// returns how many were sent.
func (s *Service) CheckNow(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.now()

	bookings, err := s.store.UpcomingUnreminded(ctx, now, now.Add(s.cfg.Lead))
	if err != nil {
		return 0, fmt.Errorf("find upcoming bookings: %w", err)
	}
	if len(bookings) == 0 {
		return 0, nil
	}

	var sent, skipped, failed int
	for i := range bookings {
		b := bookings[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return sent, err
		}

		// Claim before publishing so concurrent sweeps never remind twice.
		claimed, err := s.store.MarkReminded(ctx, b.ID, now)
		if err != nil {
			failed++
			metrics.IncReminder("failed")
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("failed to claim reminder")
			continue
		}
		if !claimed {
			skipped++
			metrics.IncReminder("skipped")
			continue
		}

		s.publisher.Publish(ctx, events.Event{Type: events.TypeBookingReminder, Booking: b})
		sent++
		metrics.IncReminder("sent")
		s.logger.Info().
			Int64("booking_id", b.ID).
			Int64("client_id", b.ClientID).
			Time("scheduled_at", b.ScheduledAt).
			Msg("reminder sent")
	}

	s.logger.Info().
		Int("total", len(bookings)).
		Int("sent", sent).
		Int("skipped", skipped).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("reminders processed")
	return sent, nil
}
