package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/models"
)

type stopRepository struct {
	store *Store
}

const stopColumns = `id, name, lon, lat, demand, is_depot, created_at, updated_at`

func (r *stopRepository) List(ctx context.Context, projectID string) ([]models.Stop, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := `SELECT ` + stopColumns + `
	          FROM stops
	          WHERE project_id = ?
	          ORDER BY is_depot DESC, position`

	rows, err := r.store.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var s models.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lon, &s.Lat, &s.Demand, &s.IsDepot, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		stops = append(stops, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stops: %w", err)
	}

	return stops, nil
}

func (r *stopRepository) GetByID(ctx context.Context, projectID, id string) (*models.Stop, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getByID(ctx, projectID, id)
}

func (r *stopRepository) getByID(ctx context.Context, projectID, id string) (*models.Stop, error) {
	query := `SELECT ` + stopColumns + ` FROM stops WHERE project_id = ? AND id = ?`

	var s models.Stop
	err := r.store.db.QueryRowContext(ctx, query, projectID, id).Scan(
		&s.ID, &s.Name, &s.Lon, &s.Lat, &s.Demand, &s.IsDepot, &s.CreatedAt, &s.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stop: %w", err)
	}

	return &s, nil
}

func validateStop(s *models.Stop) error {
	if s.ID == "" {
		return fmt.Errorf("stop id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("stop name is required")
	}
	if s.Demand < 0 {
		return fmt.Errorf("stop demand must be non-negative")
	}
	if s.IsDepot && s.Demand != 0 {
		return fmt.Errorf("depot demand must be 0")
	}
	return nil
}

func (r *stopRepository) Create(ctx context.Context, projectID string, s *models.Stop) (*models.Stop, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := validateStop(s); err != nil {
		return nil, err
	}

	if s.IsDepot {
		var count int
		err := r.store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM stops WHERE project_id = ? AND is_depot = 1`, projectID).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to count depots: %w", err)
		}
		if count > 0 {
			return nil, database.ErrDepotExists
		}
	}

	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	query := `INSERT INTO stops (project_id, id, name, lon, lat, demand, is_depot, position, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?,
	                  (SELECT COALESCE(MAX(position), 0) + 1 FROM stops WHERE project_id = ?),
	                  ?, ?)`

	_, err := r.store.db.ExecContext(ctx, query,
		projectID, s.ID, s.Name, s.Lon, s.Lat, s.Demand, s.IsDepot, projectID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, database.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create stop: %w", err)
	}

	return s, nil
}

func (r *stopRepository) Update(ctx context.Context, projectID string, s *models.Stop) (*models.Stop, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.getByID(ctx, projectID, s.ID)
	if err != nil {
		return nil, err
	}

	// The depot flag is immutable; validate against the stored one
	s.IsDepot = existing.IsDepot
	if err := validateStop(s); err != nil {
		return nil, err
	}

	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now()

	query := `UPDATE stops
	          SET name = ?, lon = ?, lat = ?, demand = ?, updated_at = ?
	          WHERE project_id = ? AND id = ?`

	result, err := r.store.db.ExecContext(ctx, query,
		s.Name, s.Lon, s.Lat, s.Demand, s.UpdatedAt, projectID, s.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update stop: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, database.ErrNotFound
	}

	return s, nil
}

func (r *stopRepository) Delete(ctx context.Context, projectID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.getByID(ctx, projectID, id)
	if err != nil {
		return err
	}

	if existing.IsDepot {
		var others int
		err := r.store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM stops WHERE project_id = ? AND is_depot = 0`, projectID).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to count stops: %w", err)
		}
		if others > 0 {
			return database.ErrDepotInUse
		}
	}

	result, err := r.store.db.ExecContext(ctx,
		`DELETE FROM stops WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return fmt.Errorf("failed to delete stop: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}

	return nil
}
