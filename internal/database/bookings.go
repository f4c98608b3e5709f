package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"homestyle/internal/model"
)

const bookingColumns = `id, client_id, stylist_id, scheduled_at, duration, status,
	client_address, special_requests, price_multiplier, total_price, version, created_at, updated_at`

// GetBooking returns a booking with its service ids or model.ErrNotFound.
func (db *DB) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return getBooking(ctx, db.DB, db.loc, id)
}

// BlockingBookings returns bookings in a blocking status that overlap [from, to).
func (db *DB) BlockingBookings(ctx context.Context, stylistID int64, from, to time.Time) ([]model.Booking, error) {
	return blockingBookings(ctx, db.DB, db.loc, stylistID, from, to)
}

// ListStylistBookings returns every booking of a stylist starting in [from, to)
// regardless of status, ordered by start.
func (db *DB) ListStylistBookings(ctx context.Context, stylistID int64, from, to time.Time) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE stylist_id = ? AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at, id`,
		stylistID, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(ctx, db.DB, db.loc, rows)
}

func (t *Tx) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return getBooking(ctx, t.tx, t.loc, id)
}

func (t *Tx) BlockingBookings(ctx context.Context, stylistID int64, from, to time.Time) ([]model.Booking, error) {
	return blockingBookings(ctx, t.tx, t.loc, stylistID, from, to)
}

// InsertBooking stores b with its services and fills ID, Version and timestamps.
func (t *Tx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if b == nil {
		return fmt.Errorf("booking is nil")
	}

	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO bookings (
			client_id, stylist_id, scheduled_at, ends_at, duration, status,
			client_address, special_requests, price_multiplier, total_price,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		b.ClientID, b.StylistID, b.ScheduledAt.Unix(), b.EndTime().Unix(), b.Duration, string(b.Status),
		b.ClientAddress, b.SpecialRequests, b.PriceMultiplier, b.TotalPrice, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, sid := range b.ServiceIDs {
		if _, err := t.tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO booking_services (booking_id, service_id) VALUES (?, ?)",
			id, sid,
		); err != nil {
			return fmt.Errorf("insert booking service %d: %w", sid, err)
		}
	}

	b.ID = id
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

// UpdateBookingStatus sets a new status if the row still has the given version.
func (t *Tx) UpdateBookingStatus(ctx context.Context, id, version int64, status model.BookingStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(status), time.Now().UTC(), id, version,
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("booking %d version %d: %w", id, version, model.ErrConcurrentModification)
	}
	return nil
}

func getBooking(ctx context.Context, q querier, loc *time.Location, id int64) (*model.Booking, error) {
	row := q.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row, loc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if b.ServiceIDs, err = bookingServiceIDs(ctx, q, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func blockingBookings(ctx context.Context, q querier, loc *time.Location, stylistID int64, from, to time.Time) ([]model.Booking, error) {
	statuses := make([]any, 0, len(model.BlockingStatuses))
	for _, s := range model.BlockingStatuses {
		statuses = append(statuses, string(s))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")

	args := append([]any{stylistID, to.Unix(), from.Unix()}, statuses...)
	rows, err := q.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE stylist_id = ?
		AND scheduled_at < ? AND ends_at > ?
		AND status IN (`+placeholders+`)
		ORDER BY scheduled_at`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectBookings(ctx, q, loc, rows)
}

func collectBookings(ctx context.Context, q querier, loc *time.Location, rows *sql.Rows) ([]model.Booking, error) {
	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows, loc)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range bookings {
		ids, err := bookingServiceIDs(ctx, q, bookings[i].ID)
		if err != nil {
			return nil, err
		}
		bookings[i].ServiceIDs = ids
	}
	return bookings, nil
}

func bookingServiceIDs(ctx context.Context, q querier, bookingID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT service_id FROM booking_services WHERE booking_id = ? ORDER BY service_id",
		bookingID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBooking(row rowScanner, loc *time.Location) (*model.Booking, error) {
	var b model.Booking
	var scheduledAt int64
	var status string
	var requests sql.NullString
	if err := row.Scan(
		&b.ID, &b.ClientID, &b.StylistID, &scheduledAt, &b.Duration, &status,
		&b.ClientAddress, &requests, &b.PriceMultiplier, &b.TotalPrice, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.ScheduledAt = time.Unix(scheduledAt, 0).In(loc)
	b.Status = model.BookingStatus(status)
	if requests.Valid {
		b.SpecialRequests = requests.String
	}
	return &b, nil
}
