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

// CreateStylist stores a stylist profile and fills its ID.
func (db *DB) CreateStylist(ctx context.Context, s *model.Stylist) error {
	if s == nil {
		return fmt.Errorf("stylist is nil")
	}

	s.CreatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO stylists (name, travel_radius_km, service_area, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.Name, s.TravelRadiusKm, s.ServiceArea, s.IsActive, s.CreatedAt,
	)
	if err != nil {
		return err
	}
	s.ID, err = res.LastInsertId()
	return err
}

// GetStylist returns a stylist or model.ErrNotFound.
func (db *DB) GetStylist(ctx context.Context, id int64) (*model.Stylist, error) {
	var s model.Stylist
	var area sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, name, travel_radius_km, service_area, is_active, created_at
		FROM stylists WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Name, &s.TravelRadiusKm, &area, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stylist %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if area.Valid {
		s.ServiceArea = area.String
	}
	return &s, nil
}

// CreateService stores a catalog entry and fills its ID.
func (db *DB) CreateService(ctx context.Context, s *model.Service) error {
	if s == nil {
		return fmt.Errorf("service is nil")
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO services (stylist_id, name, duration, price, description, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.StylistID, s.Name, s.Duration, s.Price, s.Description, s.IsActive,
	)
	if err != nil {
		return err
	}
	s.ID, err = res.LastInsertId()
	return err
}

// ListServices returns the active services offered by a stylist.
func (db *DB) ListServices(ctx context.Context, stylistID int64) ([]model.Service, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, stylist_id, name, duration, price, description, is_active
		FROM services
		WHERE stylist_id = ? AND is_active = 1
		ORDER BY id`,
		stylistID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanServices(rows)
}

// GetServices returns the services with the given ids in any state. Missing
// ids are simply absent from the result.
func (db *DB) GetServices(ctx context.Context, ids []int64) ([]model.Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := db.QueryContext(ctx, `
		SELECT id, stylist_id, name, duration, price, description, is_active
		FROM services
		WHERE id IN (`+placeholders+`)
		ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanServices(rows)
}

func scanServices(rows *sql.Rows) ([]model.Service, error) {
	services := []model.Service{}
	for rows.Next() {
		var s model.Service
		var desc sql.NullString
		if err := rows.Scan(&s.ID, &s.StylistID, &s.Name, &s.Duration, &s.Price, &desc, &s.IsActive); err != nil {
			return nil, err
		}
		if desc.Valid {
			s.Description = desc.String
		}
		services = append(services, s)
	}
	return services, rows.Err()
}
