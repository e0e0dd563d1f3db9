package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/models"
)

type matrixRepository struct {
	store *Store
}

func (r *matrixRepository) Get(ctx context.Context, projectID string) (*models.MatrixSnapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := `SELECT stop_hash, content_hash, dimension, time_json, distance_json, created_at
	          FROM matrices WHERE project_id = ?`

	var snap models.MatrixSnapshot
	var timeJSON, distJSON string
	err := r.store.db.QueryRowContext(ctx, query, projectID).Scan(
		&snap.StopHash, &snap.Hash, &snap.Dimension, &timeJSON, &distJSON, &snap.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matrix snapshot: %w", err)
	}

	snap.ProjectID = projectID
	if err := json.Unmarshal([]byte(timeJSON), &snap.Matrix.Time); err != nil {
		return nil, fmt.Errorf("failed to decode time matrix: %w", err)
	}
	if err := json.Unmarshal([]byte(distJSON), &snap.Matrix.Distance); err != nil {
		return nil, fmt.Errorf("failed to decode distance matrix: %w", err)
	}

	return &snap, nil
}

func (r *matrixRepository) Put(ctx context.Context, projectID string, pair *models.MatrixPair, stopHash string) (*models.MatrixSnapshot, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	dim := 0
	if pair != nil {
		dim = len(pair.Time)
	}
	if err := pair.Validate(dim); err != nil {
		return nil, err
	}

	timeJSON, err := json.Marshal(pair.Time)
	if err != nil {
		return nil, fmt.Errorf("failed to encode time matrix: %w", err)
	}
	distJSON, err := json.Marshal(pair.Distance)
	if err != nil {
		return nil, fmt.Errorf("failed to encode distance matrix: %w", err)
	}

	snap := &models.MatrixSnapshot{
		ProjectID: projectID,
		StopHash:  stopHash,
		Hash:      pair.ContentHash(),
		Dimension: dim,
		Matrix:    *pair,
		CreatedAt: time.Now(),
	}

	query := `INSERT INTO matrices (project_id, stop_hash, content_hash, dimension, time_json, distance_json, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(project_id) DO UPDATE SET
	              stop_hash = excluded.stop_hash,
	              content_hash = excluded.content_hash,
	              dimension = excluded.dimension,
	              time_json = excluded.time_json,
	              distance_json = excluded.distance_json,
	              created_at = excluded.created_at`

	_, err = r.store.db.ExecContext(ctx, query,
		projectID, snap.StopHash, snap.Hash, snap.Dimension, string(timeJSON), string(distJSON), snap.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store matrix snapshot: %w", err)
	}

	return snap, nil
}

func (r *matrixRepository) Delete(ctx context.Context, projectID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result, err := r.store.db.ExecContext(ctx, `DELETE FROM matrices WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete matrix snapshot: %w", err)
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
