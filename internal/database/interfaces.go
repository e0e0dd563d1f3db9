package database

import (
	"context"

	"fleet-route-planner/internal/models"
)

// DataStore is the interface for data persistence
type DataStore interface {
	Close() error
	HealthCheck(ctx context.Context) error
	Projects() ProjectRepository
	Stops() StopRepository
	Matrices() MatrixRepository
}

// ProjectRepository handles project persistence
type ProjectRepository interface {
	List(ctx context.Context) ([]models.Project, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, id string) (*models.Project, error)
	Delete(ctx context.Context, id string) error
}

// StopRepository handles stop persistence. List returns the depot first,
// then the remaining stops in insertion order; this ordering defines the
// matrix node numbering.
type StopRepository interface {
	List(ctx context.Context, projectID string) ([]models.Stop, error)
	GetByID(ctx context.Context, projectID, id string) (*models.Stop, error)
	Create(ctx context.Context, projectID string, s *models.Stop) (*models.Stop, error)
	Update(ctx context.Context, projectID string, s *models.Stop) (*models.Stop, error)
	Delete(ctx context.Context, projectID, id string) error
}

// MatrixRepository handles matrix snapshot persistence. A project holds at
// most one snapshot; Put replaces it.
type MatrixRepository interface {
	Get(ctx context.Context, projectID string) (*models.MatrixSnapshot, error)
	Put(ctx context.Context, projectID string, pair *models.MatrixPair, stopHash string) (*models.MatrixSnapshot, error)
	Delete(ctx context.Context, projectID string) error
}
