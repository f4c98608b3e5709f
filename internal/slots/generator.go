package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"homestyle/internal/metrics"
	"homestyle/internal/model"
	"homestyle/internal/pricing"
)

// Rejection reasons reported by Admit.
const (
	ReasonPast       = "past"
	ReasonHorizon    = "horizon"
	ReasonClosed     = "closed"
	ReasonHours      = "outside_hours"
	ReasonTimeOff    = "time_off"
	ReasonConflict   = "conflict"
	ReasonBlackedOut = "blacked_out"
)

// RejectionError explains why a requested start cannot be booked. It
// unwraps to model.ErrSlotUnavailable.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", model.ErrSlotUnavailable, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return model.ErrSlotUnavailable
}

func reject(reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// PriceSource provides the active pricing table.
type PriceSource interface {
	Current() *pricing.Table
}

// BlackoutChecker marks slots that fit but must not be offered, such as a
// stylist's declared break.
type BlackoutChecker interface {
	IsBlackedOut(ctx context.Context, stylistID int64, start, end time.Time) (bool, error)
}

// Options configures slot generation.
type Options struct {
	StepMinutes int
	HorizonDays int
	Location    *time.Location
}

// Generator computes bookable slots for a stylist and date and performs the
// admission check at write time with the same rules.
type Generator struct {
	reader    model.DayReader
	prices    PriceSource
	blackouts BlackoutChecker
	cache     Cache
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
}

// NewGenerator creates a new slot generator.
func NewGenerator(reader model.DayReader, prices PriceSource, opts Options, logger *zerolog.Logger) *Generator {
	if opts.StepMinutes <= 0 {
		opts.StepMinutes = 30
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 90
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Generator{
		reader: reader,
		prices: prices,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "slots").Logger(),
	}
}

// UseCache enables caching of slot lists for future dates.
func (g *Generator) UseCache(c Cache) {
	g.cache = c
}

// UseBlackouts installs a checker that can mark fitting slots unavailable.
func (g *Generator) UseBlackouts(b BlackoutChecker) {
	g.blackouts = b
}

// SetClock replaces the time source.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Location returns the timezone calendar dates are evaluated in.
func (g *Generator) Location() *time.Location {
	return g.opts.Location
}

// Now returns the generator's current time in its location.
func (g *Generator) Now() time.Time {
	return g.now().In(g.opts.Location)
}

// Invalidate drops cached slot lists of a stylist after a schedule or ledger
// write. Cache failures are logged; they only cost a recomputation.
func (g *Generator) Invalidate(ctx context.Context, stylistID int64) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Invalidate(ctx, stylistID); err != nil {
		g.logger.Warn().Err(err).Int64("stylist_id", stylistID).Msg("slot cache invalidation failed")
	}
}

// GenerateSlots returns candidate start times on date for a service of
// durationMinutes. Closed days, time-off dates, past dates and dates beyond
// the horizon yield an empty list.
func (g *Generator) GenerateSlots(ctx context.Context, stylistID int64, date time.Time, durationMinutes int) ([]model.Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d minutes", model.ErrInvalidDuration, durationMinutes)
	}

	started := time.Now()
	defer func() { metrics.ObserveSlotGeneration(time.Since(started).Seconds()) }()

	loc := g.opts.Location
	day := model.StartOfDay(date, loc)
	today := model.StartOfDay(g.now(), loc)

	if day.Before(today) || day.After(today.AddDate(0, 0, g.opts.HorizonDays)) {
		return []model.Slot{}, nil
	}

	table := g.prices.Current()

	// Today's list depends on the clock, so only later dates are cached.
	var key SlotKey
	cacheable := g.cache != nil && day.After(today)
	if cacheable {
		gen, err := g.cache.Generation(ctx, stylistID)
		if err != nil {
			g.logger.Warn().Err(err).Int64("stylist_id", stylistID).Msg("slot cache unavailable")
			cacheable = false
		} else {
			key = SlotKey{
				StylistID:  stylistID,
				Generation: gen,
				Date:       day.Format(model.DateLayout),
				Duration:   durationMinutes,
				Pricing:    table.Fingerprint(),
			}
			if cached, ok := g.cache.Get(ctx, key); ok {
				metrics.IncSlotCache("hit")
				return cached, nil
			}
			metrics.IncSlotCache("miss")
		}
	}

	minStart := -1
	if day.Equal(today) {
		minStart = firstBookableMinute(g.now().In(loc), day)
	}

	slots, err := g.compute(ctx, stylistID, day, durationMinutes, minStart, table)
	if err != nil {
		return nil, err
	}

	if cacheable {
		g.cache.Set(ctx, key, slots)
	}
	return slots, nil
}

func (g *Generator) compute(ctx context.Context, stylistID int64, day time.Time, duration, minStart int, table *pricing.Table) ([]model.Slot, error) {
	slots := []model.Slot{}

	avail, err := g.reader.DayAvailability(ctx, stylistID, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("get day availability: %w", err)
	}
	if avail == nil || !avail.IsActive {
		return slots, nil
	}

	off, err := g.reader.TimeOffOn(ctx, stylistID, day)
	if err != nil {
		return nil, fmt.Errorf("check time off: %w", err)
	}
	if off {
		return slots, nil
	}

	bookings, err := g.reader.BlockingBookings(ctx, stylistID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("get bookings: %w", err)
	}

	open := interval{start: avail.StartTime, end: avail.EndTime}
	free := subtract(open, occupiedIntervals(bookings, day))

	step := g.opts.StepMinutes
	for _, f := range free {
		for tick := alignUp(f.start, open.start, step); tick+duration <= f.end; tick += step {
			if tick < minStart {
				continue
			}

			slot := model.Slot{
				Time:            model.FormatMinute(tick),
				Available:       true,
				PriceMultiplier: table.Multiplier(tick),
			}

			if g.blackouts != nil {
				start := atMinute(day, tick)
				blocked, err := g.blackouts.IsBlackedOut(ctx, stylistID, start, start.Add(time.Duration(duration)*time.Minute))
				if err != nil {
					return nil, fmt.Errorf("check blackout: %w", err)
				}
				slot.Available = !blocked
			}

			slots = append(slots, slot)
		}
	}

	return slots, nil
}

// Admit re-validates [start, start+duration) against r, which is expected to
// be the open write transaction that will insert the booking. It returns nil
// when the booking may be inserted and a *RejectionError otherwise.
func (g *Generator) Admit(ctx context.Context, r model.DayReader, stylistID int64, start time.Time, durationMinutes int) error {
	if durationMinutes <= 0 {
		return fmt.Errorf("%w: %d minutes", model.ErrInvalidDuration, durationMinutes)
	}

	loc := g.opts.Location
	start = start.In(loc)
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	day := model.StartOfDay(start, loc)
	now := g.now()

	if start.Before(now) {
		return reject(ReasonPast, "start %s is in the past", start.Format(time.RFC3339))
	}
	if day.After(model.StartOfDay(now, loc).AddDate(0, 0, g.opts.HorizonDays)) {
		return reject(ReasonHorizon, "date %s is beyond the %d-day booking horizon", day.Format(model.DateLayout), g.opts.HorizonDays)
	}

	avail, err := r.DayAvailability(ctx, stylistID, int(day.Weekday()))
	if err != nil {
		return fmt.Errorf("get day availability: %w", err)
	}
	if avail == nil || !avail.IsActive {
		return reject(ReasonClosed, "stylist does not work on %s", day.Weekday())
	}

	startMin := minuteOf(start, day)
	endMin := startMin + durationMinutes
	if startMin < avail.StartTime || endMin > avail.EndTime {
		return reject(ReasonHours, "%s-%s is outside working hours %s-%s",
			model.FormatMinute(startMin), model.FormatMinute(endMin%model.MinutesPerDay),
			model.FormatMinute(avail.StartTime), model.FormatMinute(avail.EndTime%model.MinutesPerDay))
	}

	off, err := r.TimeOffOn(ctx, stylistID, day)
	if err != nil {
		return fmt.Errorf("check time off: %w", err)
	}
	if off {
		return reject(ReasonTimeOff, "stylist is on time off on %s", day.Format(model.DateLayout))
	}

	conflicts, err := r.BlockingBookings(ctx, stylistID, start, end)
	if err != nil {
		return fmt.Errorf("get bookings: %w", err)
	}
	for i := range conflicts {
		if conflicts[i].Status.Blocks() && conflicts[i].Overlaps(start, end) {
			return reject(ReasonConflict, "overlaps booking %d", conflicts[i].ID)
		}
	}

	if g.blackouts != nil {
		blocked, err := g.blackouts.IsBlackedOut(ctx, stylistID, start, end)
		if err != nil {
			return fmt.Errorf("check blackout: %w", err)
		}
		if blocked {
			return reject(ReasonBlackedOut, "slot is blocked by the stylist")
		}
	}

	return nil
}

// Multiplier returns the price multiplier for a booking starting at t.
func (g *Generator) Multiplier(t time.Time) float64 {
	t = t.In(g.opts.Location)
	return g.prices.Current().Multiplier(minuteOf(t, model.StartOfDay(t, g.opts.Location)))
}

// RejectionReason extracts the reason label from an admission error.
func RejectionReason(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
