package database

import (
	"context"
	"fmt"
	"time"

	"homestyle/internal/model"
)

// UpcomingUnreminded returns confirmed bookings starting in [from, to) that
// have not had a reminder sent.
func (db *DB) UpcomingUnreminded(ctx context.Context, from, to time.Time) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = ? AND reminded_at IS NULL
		AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at, id`,
		string(model.StatusConfirmed), from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("upcoming bookings: %w", err)
	}
	return collectBookings(ctx, db.DB, db.loc, rows)
}

// MarkReminded claims the reminder for a booking. It reports false when the
// reminder was already claimed or the booking is no longer confirmed.
func (db *DB) MarkReminded(ctx context.Context, bookingID int64, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET reminded_at = ?
		WHERE id = ? AND reminded_at IS NULL AND status = ?`,
		at.Unix(), bookingID, string(model.StatusConfirmed),
	)
	if err != nil {
		return false, fmt.Errorf("mark reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
