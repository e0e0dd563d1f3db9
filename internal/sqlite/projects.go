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

type projectRepository struct {
	store *Store
}

func (r *projectRepository) List(ctx context.Context) ([]models.Project, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := `SELECT id, created_at FROM projects ORDER BY created_at, id`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

func (r *projectRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var one int
	err := r.store.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check project: %w", err)
	}
	return true, nil
}

func (r *projectRepository) Create(ctx context.Context, id string) (*models.Project, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	p := models.Project{ID: id, CreatedAt: time.Now()}

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO projects (id, created_at) VALUES (?, ?)`, p.ID, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, database.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return &p, nil
}

func (r *projectRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result, err := r.store.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
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
