// Package schedule owns a stylist's recurring weekly hours and the time-off
// calendar that closes specific dates.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"homestyle/internal/locks"
	"homestyle/internal/model"
)

// Store persists weekly availability and time-off periods.
type Store interface {
	GetWeeklyAvailability(ctx context.Context, stylistID int64) ([]model.StylistAvailability, error)
	ReplaceWeeklyAvailability(ctx context.Context, stylistID int64, entries []model.StylistAvailability) error
	ListTimeOff(ctx context.Context, stylistID int64) ([]model.TimeOffPeriod, error)
	GetTimeOffByID(ctx context.Context, id int64) (*model.TimeOffPeriod, error)
	InsertTimeOff(ctx context.Context, p *model.TimeOffPeriod) error
	DeleteTimeOff(ctx context.Context, id int64) error
	TimeOffOn(ctx context.Context, stylistID int64, date time.Time) (bool, error)
}

// StylistLookup resolves stylist profiles.
type StylistLookup interface {
	GetStylist(ctx context.Context, id int64) (*model.Stylist, error)
}

// Invalidator is told whenever a stylist's schedule changes.
type Invalidator interface {
	Invalidate(ctx context.Context, stylistID int64)
}

// Service provides the weekly availability store and exception calendar.
type Service struct {
	store       Store
	stylists    StylistLookup
	locks       *locks.Keyed
	invalidator Invalidator
	loc         *time.Location
	logger      zerolog.Logger
}

// NewService creates a schedule service. locks must be the same set used by
// the booking service so schedule edits and admissions of one stylist are
// serialized.
func NewService(store Store, stylists StylistLookup, keyed *locks.Keyed, invalidator Invalidator, loc *time.Location, logger *zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:       store,
		stylists:    stylists,
		locks:       keyed,
		invalidator: invalidator,
		loc:         loc,
		logger:      logger.With().Str("component", "schedule").Logger(),
	}
}

func (s *Service) ensureStylist(ctx context.Context, stylistID int64) error {
	if _, err := s.stylists.GetStylist(ctx, stylistID); err != nil {
		return err
	}
	return nil
}

// GetWeeklyAvailability returns only the active weekly entries.
func (s *Service) GetWeeklyAvailability(ctx context.Context, stylistID int64) ([]model.StylistAvailability, error) {
	if err := s.ensureStylist(ctx, stylistID); err != nil {
		return nil, err
	}
	entries, err := s.store.GetWeeklyAvailability(ctx, stylistID)
	if err != nil {
		return nil, fmt.Errorf("get weekly availability: %w", err)
	}
	if entries == nil {
		entries = []model.StylistAvailability{}
	}
	return entries, nil
}

// ReplaceWeeklyAvailability validates entries and swaps the stylist's whole
// weekly set. Days missing from entries become closed.
func (s *Service) ReplaceWeeklyAvailability(ctx context.Context, stylistID int64, entries []model.StylistAvailability) error {
	if err := ValidateWeek(entries); err != nil {
		return err
	}
	if err := s.ensureStylist(ctx, stylistID); err != nil {
		return err
	}

	week := make([]model.StylistAvailability, len(entries))
	for i, e := range entries {
		e.StylistID = stylistID
		week[i] = e
	}

	unlock := s.locks.Lock(stylistID)
	defer unlock()

	if err := s.store.ReplaceWeeklyAvailability(ctx, stylistID, week); err != nil {
		return fmt.Errorf("replace weekly availability: %w", err)
	}
	s.invalidator.Invalidate(ctx, stylistID)

	s.logger.Info().Int64("stylist_id", stylistID).Int("entries", len(week)).Msg("weekly availability replaced")
	return nil
}

// ValidateWeek checks each entry's interval and rejects duplicate days.
func ValidateWeek(entries []model.StylistAvailability) error {
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if seen[e.DayOfWeek] {
			return fmt.Errorf("%w: %s listed more than once", model.ErrDuplicateDay, time.Weekday(e.DayOfWeek))
		}
		seen[e.DayOfWeek] = true
	}
	return nil
}

// GetTimeOff lists a stylist's time-off periods ordered by start date.
func (s *Service) GetTimeOff(ctx context.Context, stylistID int64) ([]model.TimeOffPeriod, error) {
	if err := s.ensureStylist(ctx, stylistID); err != nil {
		return nil, err
	}
	periods, err := s.store.ListTimeOff(ctx, stylistID)
	if err != nil {
		return nil, fmt.Errorf("list time off: %w", err)
	}
	if periods == nil {
		periods = []model.TimeOffPeriod{}
	}
	return periods, nil
}

// AddTimeOff closes the stylist on every date in [startDate, endDate].
// Overlapping periods are allowed.
func (s *Service) AddTimeOff(ctx context.Context, stylistID int64, startDate, endDate time.Time, reason string) (*model.TimeOffPeriod, error) {
	start := model.StartOfDay(startDate, s.loc)
	end := model.StartOfDay(endDate, s.loc)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s",
			model.ErrInvalidRange, end.Format(model.DateLayout), start.Format(model.DateLayout))
	}
	if err := s.ensureStylist(ctx, stylistID); err != nil {
		return nil, err
	}

	p := &model.TimeOffPeriod{
		StylistID: stylistID,
		StartDate: start,
		EndDate:   end,
		Reason:    reason,
	}

	unlock := s.locks.Lock(stylistID)
	defer unlock()

	if err := s.store.InsertTimeOff(ctx, p); err != nil {
		return nil, fmt.Errorf("insert time off: %w", err)
	}
	s.invalidator.Invalidate(ctx, stylistID)

	s.logger.Info().
		Int64("stylist_id", stylistID).
		Int64("time_off_id", p.ID).
		Str("start", start.Format(model.DateLayout)).
		Str("end", end.Format(model.DateLayout)).
		Msg("time off added")
	return p, nil
}

// RemoveTimeOff deletes a period owned by stylistID. Removing a period that
// no longer exists is a no-op.
func (s *Service) RemoveTimeOff(ctx context.Context, stylistID, timeOffID int64) error {
	unlock := s.locks.Lock(stylistID)
	defer unlock()

	p, err := s.store.GetTimeOffByID(ctx, timeOffID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get time off: %w", err)
	}
	if p.StylistID != stylistID {
		return fmt.Errorf("%w: time-off %d belongs to another stylist", model.ErrForbidden, timeOffID)
	}

	if err := s.store.DeleteTimeOff(ctx, timeOffID); err != nil {
		return fmt.Errorf("delete time off: %w", err)
	}
	s.invalidator.Invalidate(ctx, stylistID)

	s.logger.Info().Int64("stylist_id", stylistID).Int64("time_off_id", timeOffID).Msg("time off removed")
	return nil
}

// IsOnTimeOff reports whether date falls inside any of the stylist's periods.
func (s *Service) IsOnTimeOff(ctx context.Context, stylistID int64, date time.Time) (bool, error) {
	return s.store.TimeOffOn(ctx, stylistID, model.StartOfDay(date, s.loc))
}
