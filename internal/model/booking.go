package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// BlockingStatuses are the statuses that occupy a stylist's time.
var BlockingStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusInProgress}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Blocks reports whether a booking in status s prevents overlapping bookings.
func (s BookingStatus) Blocks() bool {
	for _, b := range BlockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}

// Booking is a client's appointment with a stylist.
type Booking struct {
	ID              int64         `json:"id"`
	ClientID        int64         `json:"clientId"`
	StylistID       int64         `json:"stylistId"`
	ServiceIDs      []int64       `json:"serviceIds"`
	ScheduledAt     time.Time     `json:"scheduledAt"`
	Duration        int           `json:"duration"` // minutes
	Status          BookingStatus `json:"status"`
	ClientAddress   string        `json:"clientAddress"`
	SpecialRequests string        `json:"specialRequests,omitempty"`
	PriceMultiplier float64       `json:"priceMultiplier"`
	TotalPrice      float64       `json:"totalPrice"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// EndTime returns the exclusive end of the booking.
func (b *Booking) EndTime() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.Duration) * time.Minute)
}

// Overlaps checks the booking against [start, end) using half-open semantics.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.ScheduledAt.Before(end) && start.Before(b.EndTime())
}

// IsParty reports whether userID is the client or the stylist of the booking.
func (b *Booking) IsParty(userID int64) bool {
	return userID != 0 && (userID == b.ClientID || userID == b.StylistID)
}
