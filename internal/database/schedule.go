package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homestyle/internal/model"
)

// GetWeeklyAvailability returns the active weekly entries of a stylist
// ordered by day of week.
func (db *DB) GetWeeklyAvailability(ctx context.Context, stylistID int64) ([]model.StylistAvailability, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT stylist_id, day_of_week, start_time, end_time, is_active
		FROM stylist_availability
		WHERE stylist_id = ? AND is_active = 1
		ORDER BY day_of_week`,
		stylistID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.StylistAvailability
	for rows.Next() {
		var a model.StylistAvailability
		if err := rows.Scan(&a.StylistID, &a.DayOfWeek, &a.StartTime, &a.EndTime, &a.IsActive); err != nil {
			return nil, err
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// ReplaceWeeklyAvailability discards the stylist's weekly set and stores
// entries in its place within one transaction. Entries must already be
// validated.
func (db *DB) ReplaceWeeklyAvailability(ctx context.Context, stylistID int64, entries []model.StylistAvailability) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM stylist_availability WHERE stylist_id = ?", stylistID); err != nil {
		return fmt.Errorf("clear weekly availability: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stylist_availability (stylist_id, day_of_week, start_time, end_time, is_active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			stylistID, e.DayOfWeek, e.StartTime, e.EndTime, e.IsActive, now,
		); err != nil {
			return fmt.Errorf("insert day %d: %w", e.DayOfWeek, err)
		}
	}

	return tx.Commit()
}

// DayAvailability returns the active weekly entry for dayOfWeek or nil.
func (db *DB) DayAvailability(ctx context.Context, stylistID int64, dayOfWeek int) (*model.StylistAvailability, error) {
	return dayAvailability(ctx, db.DB, stylistID, dayOfWeek)
}

// TimeOffOn reports whether any time-off period covers date.
func (db *DB) TimeOffOn(ctx context.Context, stylistID int64, date time.Time) (bool, error) {
	return timeOffOn(ctx, db.DB, stylistID, date.In(db.loc))
}

func (t *Tx) DayAvailability(ctx context.Context, stylistID int64, dayOfWeek int) (*model.StylistAvailability, error) {
	return dayAvailability(ctx, t.tx, stylistID, dayOfWeek)
}

func (t *Tx) TimeOffOn(ctx context.Context, stylistID int64, date time.Time) (bool, error) {
	return timeOffOn(ctx, t.tx, stylistID, date.In(t.loc))
}

func dayAvailability(ctx context.Context, q querier, stylistID int64, dayOfWeek int) (*model.StylistAvailability, error) {
	var a model.StylistAvailability
	err := q.QueryRowContext(ctx, `
		SELECT stylist_id, day_of_week, start_time, end_time, is_active
		FROM stylist_availability
		WHERE stylist_id = ? AND day_of_week = ? AND is_active = 1
		LIMIT 1`,
		stylistID, dayOfWeek,
	).Scan(&a.StylistID, &a.DayOfWeek, &a.StartTime, &a.EndTime, &a.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func timeOffOn(ctx context.Context, q querier, stylistID int64, date time.Time) (bool, error) {
	d := date.Format(model.DateLayout)
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM time_off_periods
		WHERE stylist_id = ? AND start_date <= ? AND end_date >= ?`,
		stylistID, d, d,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListTimeOff returns all time-off periods of a stylist ordered by start date.
func (db *DB) ListTimeOff(ctx context.Context, stylistID int64) ([]model.TimeOffPeriod, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, stylist_id, start_date, end_date, reason, created_at
		FROM time_off_periods
		WHERE stylist_id = ?
		ORDER BY start_date, id`,
		stylistID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []model.TimeOffPeriod
	for rows.Next() {
		p, err := db.scanTimeOff(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

// GetTimeOffByID returns a period or model.ErrNotFound.
func (db *DB) GetTimeOffByID(ctx context.Context, id int64) (*model.TimeOffPeriod, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, stylist_id, start_date, end_date, reason, created_at
		FROM time_off_periods
		WHERE id = ?`,
		id,
	)
	p, err := db.scanTimeOff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("time-off %d: %w", id, model.ErrNotFound)
	}
	return p, err
}

// InsertTimeOff stores p and fills its ID and CreatedAt.
func (db *DB) InsertTimeOff(ctx context.Context, p *model.TimeOffPeriod) error {
	if p == nil {
		return fmt.Errorf("time-off is nil")
	}

	p.CreatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO time_off_periods (stylist_id, start_date, end_date, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.StylistID, p.StartDate.Format(model.DateLayout), p.EndDate.Format(model.DateLayout), p.Reason, p.CreatedAt,
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// DeleteTimeOff removes a period. Deleting a missing id is not an error.
func (db *DB) DeleteTimeOff(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM time_off_periods WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanTimeOff(row rowScanner) (*model.TimeOffPeriod, error) {
	var p model.TimeOffPeriod
	var start, end string
	var reason sql.NullString
	if err := row.Scan(&p.ID, &p.StylistID, &start, &end, &reason, &p.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.StartDate, err = time.ParseInLocation(model.DateLayout, start, db.loc); err != nil {
		return nil, fmt.Errorf("time-off %d start_date: %w", p.ID, err)
	}
	if p.EndDate, err = time.ParseInLocation(model.DateLayout, end, db.loc); err != nil {
		return nil, fmt.Errorf("time-off %d end_date: %w", p.ID, err)
	}
	if reason.Valid {
		p.Reason = reason.String
	}
	return &p, nil
}
