package materialize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-route-planner/internal/models"
	"fleet-route-planner/internal/testutil"
	"fleet-route-planner/internal/tmap"
)

var departAt = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

func testParams() models.MaterializeParams {
	return models.MaterializeParams{
		SearchOption: models.SearchOptionRecommended,
		VehicleClass: models.VehicleClassLargeVan,
		DepartAt:     departAt,
		ViaDwellSecs: 60,
		RouteMode:    models.RouteModeClosedTour,
	}
}

func twoStopJob(vehicleID int) VehicleJob {
	return VehicleJob{
		VehicleID:   vehicleID,
		Fingerprint: "fp-1",
		Stops: []WaypointSpec{
			{ID: "depot", Name: "Depot", Lon: 0, Lat: 0},
			{ID: "a", Name: "Stop A", Lon: 0.1, Lat: 0, Demand: 3},
			{ID: "b", Name: "Stop B", Lon: 0.2, Lat: 0, Demand: 2},
		},
	}
}

func TestMaterializeClosedTourCumulatives(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	m := NewMaterializer(provider)

	routes, err := m.Materialize(context.Background(), []VehicleJob{twoStopJob(1)}, testParams())
	require.NoError(t, err)
	require.Len(t, routes, 1)

	route := routes[0]
	assert.Equal(t, models.VehicleStatusOK, route.Status)
	assert.Equal(t, "fp-1", route.Fingerprint)
	assert.Equal(t, 5, route.RouteLoad)
	require.NotNil(t, route.RouteGeometry)
	assert.Equal(t, "LineString", route.RouteGeometry.Type)

	// depot → a → b → depot; mock drives 10 m/s over 0.1° = 10000 m legs
	require.Len(t, route.Waypoints, 4)
	wp := route.Waypoints

	assert.Equal(t, 0.0, wp[0].CumulativeTime)
	assert.Equal(t, 0.0, wp[0].CumulativeDistance)

	assert.InDelta(t, 1000, wp[1].CumulativeTime, 1e-6)
	assert.InDelta(t, 10000, wp[1].CumulativeDistance, 1e-6)

	// 60s dwell at a shows up in b's cumulative time
	assert.InDelta(t, 2060, wp[2].CumulativeTime, 1e-6)
	assert.InDelta(t, 20000, wp[2].CumulativeDistance, 1e-6)

	// closing leg back to the depot is 0.2° plus the dwell at b
	assert.InDelta(t, 4120, wp[3].CumulativeTime, 1e-6)
	assert.InDelta(t, 40000, wp[3].CumulativeDistance, 1e-6)

	assert.Equal(t, departAt.Format(time.RFC3339), wp[0].ArrivalTime)
	assert.Equal(t, departAt.Add(1000*time.Second).Format(time.RFC3339), wp[1].ArrivalTime)

	// monotone non-decreasing throughout
	for i := 1; i < len(wp); i++ {
		assert.GreaterOrEqual(t, wp[i].CumulativeTime, wp[i-1].CumulativeTime)
		assert.GreaterOrEqual(t, wp[i].CumulativeDistance, wp[i-1].CumulativeDistance)
	}

	assert.Equal(t, "depot", route.StartPoint.ID)
	assert.Equal(t, "depot", route.EndPoint.ID)
	require.Len(t, route.ViaPoints, 2)
	assert.Equal(t, "a", route.ViaPoints[0].ID)
	assert.Equal(t, "b", route.ViaPoints[1].ID)

	assert.InDelta(t, route.Waypoints[3].CumulativeTime, route.TotalTime, 1e-6)
	assert.InDelta(t, route.Waypoints[3].CumulativeDistance, route.TotalDistance, 1e-6)
}

func TestMaterializeOpenEnd(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	m := NewMaterializer(provider)

	params := testParams()
	params.RouteMode = models.RouteModeOpenEnd

	routes, err := m.Materialize(context.Background(), []VehicleJob{twoStopJob(1)}, params)
	require.NoError(t, err)
	require.Len(t, routes, 1)

	route := routes[0]
	assert.Equal(t, "b", route.EndPoint.ID)
	require.Len(t, route.Waypoints, 3)

	// the provider request ends at b, with a as the only via
	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "b", calls[0].End.ID)
	require.Len(t, calls[0].Vias, 1)
	assert.Equal(t, "a", calls[0].Vias[0].ID)
}

func TestMaterializePartialFailure(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	provider.FailForStop("c", &tmap.ErrProviderUnavailable{Status: 502, Attempts: 3, Reason: "bad gateway"})
	m := NewMaterializer(provider)

	jobs := []VehicleJob{
		twoStopJob(1),
		{
			VehicleID:   2,
			Fingerprint: "fp-2",
			Stops: []WaypointSpec{
				{ID: "depot", Name: "Depot", Lon: 0, Lat: 0},
				{ID: "c", Name: "Stop C", Lon: 0.3, Lat: 0, Demand: 4},
			},
		},
	}

	routes, err := m.Materialize(context.Background(), jobs, testParams())
	require.NoError(t, err) // one vehicle's failure never aborts the run
	require.Len(t, routes, 2)

	assert.Equal(t, models.VehicleStatusOK, routes[0].Status)

	failed := routes[1]
	assert.Equal(t, 2, failed.VehicleID)
	assert.Equal(t, models.VehicleStatusProviderError, failed.Status)
	assert.Equal(t, ReasonProviderUnavailable, failed.Error)
	assert.Empty(t, failed.Fingerprint)
	assert.Nil(t, failed.RouteGeometry)

	// planned waypoint sequence survives with zero cumulatives
	require.Len(t, failed.Waypoints, 3)
	assert.Equal(t, "c", failed.Waypoints[1].ID)
	assert.Equal(t, 0.0, failed.Waypoints[1].CumulativeTime)
	assert.Empty(t, failed.Waypoints[1].ArrivalTime)
}

func TestMaterializeAllFailed(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	provider.FailForStop("a", &tmap.ErrProviderUnavailable{Status: 503, Attempts: 3, Reason: "outage"})
	m := NewMaterializer(provider)

	routes, err := m.Materialize(context.Background(), []VehicleJob{twoStopJob(1)}, testParams())

	var allFailed *ErrAllVehiclesFailed
	require.ErrorAs(t, err, &allFailed)
	assert.Equal(t, 1, allFailed.Vehicles)
	require.Len(t, routes, 1)
	assert.Equal(t, models.VehicleStatusProviderError, routes[0].Status)
}

func TestMaterializeDegenerateGeometry(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	provider.DegenerateForStop("a")
	m := NewMaterializer(provider)

	routes, err := m.Materialize(context.Background(), []VehicleJob{twoStopJob(1)}, testParams())
	require.NoError(t, err) // no_match is not a provider outage
	require.Len(t, routes, 1)

	route := routes[0]
	assert.Equal(t, models.VehicleStatusNoMatch, route.Status)
	assert.Equal(t, ReasonDegenerateGeometry, route.Error)
	assert.Nil(t, route.RouteGeometry)
}

func TestMaterializeSkipsEmptyVehicles(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	m := NewMaterializer(provider)

	jobs := []VehicleJob{
		{VehicleID: 1, Stops: []WaypointSpec{{ID: "depot", Name: "Depot"}}},
	}

	routes, err := m.Materialize(context.Background(), jobs, testParams())
	require.NoError(t, err)
	assert.Empty(t, routes)
	assert.Zero(t, provider.CallCount())
}

func TestMaterializeInvalidParams(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	m := NewMaterializer(provider)

	params := testParams()
	params.SearchOption = "scenic"

	_, err := m.Materialize(context.Background(), []VehicleJob{twoStopJob(1)}, params)
	var invalid *tmap.ErrInvalidRequest
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, provider.CallCount())
}

func TestMaterializeCanceledContext(t *testing.T) {
	provider := testutil.NewMockDirectionsProvider()
	m := NewMaterializer(provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	routes, err := m.Materialize(ctx, []VehicleJob{twoStopJob(1)}, testParams())
	require.Error(t, err) // everything failed, so the run is an outage
	require.Len(t, routes, 1)
	assert.Equal(t, ReasonCanceled, routes[0].Error)
	assert.Zero(t, provider.CallCount())
}
