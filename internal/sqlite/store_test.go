package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestProjectLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.Projects().Exists(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, exists)

	p, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", p.ID)

	_, err = store.Projects().Create(ctx, "demo")
	assert.ErrorIs(t, err, database.ErrAlreadyExists)

	exists, err = store.Projects().Exists(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, exists)

	projects, err := store.Projects().List(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	require.NoError(t, store.Projects().Delete(ctx, "demo"))
	assert.ErrorIs(t, store.Projects().Delete(ctx, "demo"), database.ErrNotFound)
}

func TestStopOrderingDepotFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)

	// Insert two waypoints before the depot; List must still put the depot first
	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "a", Name: "Stop A", Lon: 127.1, Lat: 37.5, Demand: 3})
	require.NoError(t, err)
	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "b", Name: "Stop B", Lon: 127.2, Lat: 37.5, Demand: 2})
	require.NoError(t, err)
	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "depot", Name: "Depot", Lon: 127.0, Lat: 37.5, IsDepot: true})
	require.NoError(t, err)

	stops, err := store.Stops().List(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, stops, 3)
	assert.Equal(t, "depot", stops[0].ID)
	assert.True(t, stops[0].IsDepot)
	assert.Equal(t, "a", stops[1].ID)
	assert.Equal(t, "b", stops[2].ID)
}

func TestStopValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)

	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "", Name: "No ID", Lon: 1, Lat: 1})
	assert.Error(t, err)

	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "x", Name: "Bad demand", Demand: -1})
	assert.Error(t, err)

	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "d", Name: "Depot with demand", IsDepot: true, Demand: 2})
	assert.Error(t, err)

	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "d", Name: "Depot", IsDepot: true})
	require.NoError(t, err)

	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "d2", Name: "Second depot", IsDepot: true})
	assert.ErrorIs(t, err, database.ErrDepotExists)

	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "d", Name: "Duplicate id", Demand: 1})
	assert.ErrorIs(t, err, database.ErrAlreadyExists)
}

func TestStopUpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)
	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "depot", Name: "Depot", Lon: 127.0, Lat: 37.5, IsDepot: true})
	require.NoError(t, err)
	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "a", Name: "Stop A", Lon: 127.1, Lat: 37.5, Demand: 3})
	require.NoError(t, err)

	updated, err := store.Stops().Update(ctx, "demo", &models.Stop{ID: "a", Name: "Stop A moved", Lon: 127.15, Lat: 37.55, Demand: 4})
	require.NoError(t, err)
	assert.Equal(t, 127.15, updated.Lon)
	assert.False(t, updated.IsDepot)

	got, err := store.Stops().GetByID(ctx, "demo", "a")
	require.NoError(t, err)
	assert.Equal(t, "Stop A moved", got.Name)
	assert.Equal(t, 4, got.Demand)

	_, err = store.Stops().Update(ctx, "demo", &models.Stop{ID: "missing", Name: "Nope"})
	assert.ErrorIs(t, err, database.ErrNotFound)

	// Depot protected while waypoints remain
	assert.ErrorIs(t, store.Stops().Delete(ctx, "demo", "depot"), database.ErrDepotInUse)

	require.NoError(t, store.Stops().Delete(ctx, "demo", "a"))
	require.NoError(t, store.Stops().Delete(ctx, "demo", "depot"))

	_, err = store.Stops().GetByID(ctx, "demo", "a")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestMatrixSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)

	pair := &models.MatrixPair{
		Time:     [][]float64{{0, 60}, {70, 0}},
		Distance: [][]float64{{0, 1000}, {1100, 0}},
	}

	snap, err := store.Matrices().Put(ctx, "demo", pair, "stophash-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Dimension)
	assert.NotEmpty(t, snap.Hash)

	got, err := store.Matrices().Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "stophash-1", got.StopHash)
	assert.Equal(t, snap.Hash, got.Hash)
	assert.Equal(t, pair.Time, got.Matrix.Time)
	assert.Equal(t, pair.Distance, got.Matrix.Distance)

	// Replacing the snapshot keeps a single row per project
	pair2 := &models.MatrixPair{
		Time:     [][]float64{{0, 61}, {70, 0}},
		Distance: [][]float64{{0, 1000}, {1100, 0}},
	}
	snap2, err := store.Matrices().Put(ctx, "demo", pair2, "stophash-2")
	require.NoError(t, err)
	assert.NotEqual(t, snap.Hash, snap2.Hash)

	got, err = store.Matrices().Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "stophash-2", got.StopHash)
}

func TestMatrixValidationRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)

	bad := &models.MatrixPair{
		Time:     [][]float64{{0, -5}, {70, 0}},
		Distance: [][]float64{{0, 1000}, {1100, 0}},
	}
	_, err = store.Matrices().Put(ctx, "demo", bad, "h")
	assert.Error(t, err)

	_, err = store.Matrices().Get(ctx, "demo")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestProjectDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Projects().Create(ctx, "demo")
	require.NoError(t, err)
	_, err = store.Stops().Create(ctx, "demo", &models.Stop{ID: "depot", Name: "Depot", IsDepot: true})
	require.NoError(t, err)
	pair := &models.MatrixPair{
		Time:     [][]float64{{0}},
		Distance: [][]float64{{0}},
	}
	_, err = store.Matrices().Put(ctx, "demo", pair, "h")
	require.NoError(t, err)

	require.NoError(t, store.Projects().Delete(ctx, "demo"))

	stops, err := store.Stops().List(ctx, "demo")
	require.NoError(t, err)
	assert.Empty(t, stops)

	_, err = store.Matrices().Get(ctx, "demo")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
