// Package booking admits new bookings and drives their status machine.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"homestyle/internal/events"
	"homestyle/internal/locks"
	"homestyle/internal/metrics"
	"homestyle/internal/model"
	"homestyle/internal/pricing"
	"homestyle/internal/slots"
)

// Ledger provides booking storage and write transactions.
type Ledger interface {
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	ListStylistBookings(ctx context.Context, stylistID int64, from, to time.Time) ([]model.Booking, error)
	InTx(ctx context.Context, fn func(tx model.LedgerTx) error) error
}

// Catalog resolves stylists and their services.
type Catalog interface {
	GetStylist(ctx context.Context, id int64) (*model.Stylist, error)
	GetServices(ctx context.Context, ids []int64) ([]model.Service, error)
}

// Publisher receives events after the ledger write has committed.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Request is a client's booking attempt.
type Request struct {
	ClientID        int64
	StylistID       int64
	ServiceIDs      []int64
	ScheduledAt     time.Time
	Duration        int // minutes; 0 means the sum of service durations
	ClientAddress   string
	SpecialRequests string
}

// Service admits bookings and applies status transitions.
type Service struct {
	ledger    Ledger
	catalog   Catalog
	slots     *slots.Generator
	locks     *locks.Keyed
	publisher Publisher
	cutoff    time.Duration
	logger    zerolog.Logger
}

// NewService creates a booking service. cutoff is how long before the start a
// confirmed booking may still be cancelled.
func NewService(
	ledger Ledger,
	catalog Catalog,
	generator *slots.Generator,
	keyed *locks.Keyed,
	publisher Publisher,
	cutoff time.Duration,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		ledger:    ledger,
		catalog:   catalog,
		slots:     generator,
		locks:     keyed,
		publisher: publisher,
		cutoff:    cutoff,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// TryCreateBooking runs the authoritative admission check and inserts the
// booking as pending. Conflicts return an error wrapping
// model.ErrSlotUnavailable; the client should refetch slots and retry.
func (s *Service) TryCreateBooking(ctx context.Context, req Request) (*model.Booking, error) {
	if req.ClientID <= 0 {
		return nil, fmt.Errorf("%w: client identity is required", model.ErrForbidden)
	}
	if req.ClientAddress == "" {
		return nil, fmt.Errorf("%w: client address is required", model.ErrInvalidRequest)
	}
	if req.Duration < 0 {
		return nil, fmt.Errorf("%w: %d minutes", model.ErrInvalidDuration, req.Duration)
	}

	stylist, err := s.catalog.GetStylist(ctx, req.StylistID)
	if err != nil {
		return nil, err
	}
	if !stylist.IsActive {
		return nil, fmt.Errorf("stylist %d: %w", req.StylistID, model.ErrNotFound)
	}

	services, err := s.resolveServices(ctx, req.StylistID, req.ServiceIDs)
	if err != nil {
		return nil, err
	}

	duration := req.Duration
	if duration == 0 {
		for _, svc := range services {
			duration += svc.Duration
		}
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: services have no duration", model.ErrInvalidDuration)
	}

	serviceIDs := make([]int64, len(services))
	for i, svc := range services {
		serviceIDs[i] = svc.ID
	}

	start := req.ScheduledAt.Truncate(time.Minute).In(s.slots.Location())
	multiplier := s.slots.Multiplier(start)
	_, total := pricing.Quote(services, multiplier)

	b := &model.Booking{
		ClientID:        req.ClientID,
		StylistID:       req.StylistID,
		ServiceIDs:      serviceIDs,
		ScheduledAt:     start,
		Duration:        duration,
		Status:          model.StatusPending,
		ClientAddress:   req.ClientAddress,
		SpecialRequests: req.SpecialRequests,
		PriceMultiplier: multiplier,
		TotalPrice:      total,
	}

	unlock := s.locks.Lock(req.StylistID)
	err = s.ledger.InTx(ctx, func(tx model.LedgerTx) error {
		if err := s.slots.Admit(ctx, tx, req.StylistID, start, duration); err != nil {
			return err
		}
		return tx.InsertBooking(ctx, b)
	})
	unlock()

	if err != nil {
		if reason := slots.RejectionReason(err); reason != "" {
			metrics.IncAdmissionRejected(reason)
			s.logger.Info().
				Int64("stylist_id", req.StylistID).
				Int64("client_id", req.ClientID).
				Time("start", start).
				Str("reason", reason).
				Msg("booking rejected")
		}
		return nil, err
	}

	s.slots.Invalidate(ctx, req.StylistID)
	metrics.IncBookingCreated()
	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("stylist_id", b.StylistID).
		Int64("client_id", b.ClientID).
		Time("start", b.ScheduledAt).
		Int("duration", b.Duration).
		Msg("booking created")

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.Event{Type: events.TypeBookingCreated, Booking: *b})
	}
	return b, nil
}

func (s *Service) resolveServices(ctx context.Context, stylistID int64, ids []int64) ([]model.Service, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one service is required", model.ErrInvalidRequest)
	}

	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	services, err := s.catalog.GetServices(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("get services: %w", err)
	}

	byID := make(map[int64]model.Service, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
	}

	resolved := make([]model.Service, 0, len(unique))
	for _, id := range unique {
		svc, ok := byID[id]
		if !ok || !svc.IsActive || svc.StylistID != stylistID {
			return nil, fmt.Errorf("service %d of stylist %d: %w", id, stylistID, model.ErrNotFound)
		}
		resolved = append(resolved, svc)
	}
	return resolved, nil
}

// GetBooking returns a booking visible to actorID.
func (s *Service) GetBooking(ctx context.Context, bookingID, actorID int64) (*model.Booking, error) {
	b, err := s.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(actorID) {
		return nil, fmt.Errorf("%w: user %d is not a party to booking %d", model.ErrForbidden, actorID, bookingID)
	}
	return b, nil
}

// UpdateStatus moves a booking along the status machine on behalf of actorID.
func (s *Service) UpdateStatus(ctx context.Context, bookingID, actorID int64, status model.BookingStatus) (*model.Booking, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidRequest, status)
	}

	current, err := s.GetBooking(ctx, bookingID, actorID)
	if err != nil {
		return nil, err
	}

	var updated *model.Booking
	unlock := s.locks.Lock(current.StylistID)
	err = s.ledger.InTx(ctx, func(tx model.LedgerTx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := s.checkTransition(b, actorID, status); err != nil {
			return err
		}
		if err := tx.UpdateBookingStatus(ctx, b.ID, b.Version, status); err != nil {
			return err
		}
		updated, err = tx.GetBooking(ctx, bookingID)
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}

	s.slots.Invalidate(ctx, updated.StylistID)
	metrics.IncStatusTransition(string(status))
	s.logger.Info().
		Int64("booking_id", updated.ID).
		Int64("actor_id", actorID).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Msg("booking status changed")

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.Event{Type: events.TypeBookingStatus, Booking: *updated})
	}
	return updated, nil
}

func (s *Service) checkTransition(b *model.Booking, actorID int64, to model.BookingStatus) error {
	role := RoleOf(b, actorID)
	if role == "" {
		return fmt.Errorf("%w: user %d is not a party to booking %d", model.ErrForbidden, actorID, b.ID)
	}
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: booking %d is already %s", model.ErrInvalidTransition, b.ID, b.Status)
	}
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, b.Status, to)
	}
	if !RoleMayTransition(b.Status, to, role) {
		return fmt.Errorf("%w: %s may not move booking from %s to %s", model.ErrForbidden, role, b.Status, to)
	}
	if needsCutoff(b.Status, to) {
		deadline := b.ScheduledAt.Add(-s.cutoff)
		if s.slots.Now().After(deadline) {
			return fmt.Errorf("%w: confirmed bookings can be cancelled until %s",
				model.ErrCancellationWindow, deadline.Format(time.RFC3339))
		}
	}
	return nil
}

// ListForExport returns a stylist's bookings in [from, to) for the stylist
// themselves.
func (s *Service) ListForExport(ctx context.Context, stylistID, actorID int64, from, to time.Time) ([]model.Booking, error) {
	if actorID != stylistID {
		return nil, fmt.Errorf("%w: only the stylist can export their ledger", model.ErrForbidden)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", model.ErrInvalidRange)
	}
	if _, err := s.catalog.GetStylist(ctx, stylistID); err != nil {
		return nil, err
	}
	return s.ledger.ListStylistBookings(ctx, stylistID, from, to)
}

// IsConflict reports whether err is the expected, retryable admission outcome.
func IsConflict(err error) bool {
	return errors.Is(err, model.ErrSlotUnavailable)
}
