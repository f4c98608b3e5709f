package model

import (
	"context"
	"time"
)

// DayReader reads everything needed to decide what is free on one day of a
// stylist's calendar. Both the database handle and an open transaction
// implement it, so the slot generator and the admission check share logic.
type DayReader interface {
	// DayAvailability returns the active weekly entry for dayOfWeek or nil.
	DayAvailability(ctx context.Context, stylistID int64, dayOfWeek int) (*StylistAvailability, error)
	// TimeOffOn reports whether any time-off period covers date.
	TimeOffOn(ctx context.Context, stylistID int64, date time.Time) (bool, error)
	// BlockingBookings returns bookings in a blocking status that overlap [from, to).
	BlockingBookings(ctx context.Context, stylistID int64, from, to time.Time) ([]Booking, error)
}

// LedgerTx is the booking ledger as seen from inside a write transaction.
type LedgerTx interface {
	DayReader
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	InsertBooking(ctx context.Context, b *Booking) error
	UpdateBookingStatus(ctx context.Context, id, version int64, status BookingStatus) error
}
