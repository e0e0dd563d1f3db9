package vrp

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-route-planner/internal/models"
)

// lineMatrix builds a symmetric matrix pair from 1-D positions: distance
// in meters, time in seconds
func lineMatrix(positions []float64) *models.MatrixPair {
	n := len(positions)
	pair := &models.MatrixPair{
		Time:     make([][]float64, n),
		Distance: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		pair.Time[i] = make([]float64, n)
		pair.Distance[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			d := math.Abs(positions[i] - positions[j])
			pair.Distance[i][j] = d * 1000
			pair.Time[i][j] = d * 60
		}
	}
	return pair
}

func depotFirstStops(demands ...int) []models.Stop {
	stops := []models.Stop{{ID: "depot", Name: "Depot", IsDepot: true}}
	for i, d := range demands {
		stops = append(stops, models.Stop{
			ID:     string(rune('a' + i)),
			Name:   "Stop " + string(rune('A'+i)),
			Demand: d,
		})
	}
	return stops
}

func stopIDs(route models.PlannedRoute) []string {
	ids := make([]string, 0, len(route.Stops))
	for _, s := range route.Stops {
		ids = append(ids, s.StopID)
	}
	return ids
}

func TestSolveSingleVehicleClosedTour(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(2, 3, 1),
		Matrix:       lineMatrix([]float64{0, 1, 2, 3}),
		VehicleCount: 1,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.Routes, 1)

	route := plan.Routes[0]
	assert.Equal(t, 1, route.VehicleID)

	ids := stopIDs(route)
	require.Len(t, ids, 5)
	assert.Equal(t, "depot", ids[0])
	assert.Equal(t, "depot", ids[4])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids[1:4])
	assert.Equal(t, 6, route.Load)
	assert.Equal(t, 6000.0, route.Distance) // out along the line and back

	// Cumulatives are non-decreasing and load accumulates per stop
	prevDist, prevTime := 0.0, 0.0
	for _, s := range route.Stops {
		assert.GreaterOrEqual(t, s.CumulativeDistance, prevDist)
		assert.GreaterOrEqual(t, s.CumulativeTime, prevTime)
		prevDist, prevTime = s.CumulativeDistance, s.CumulativeTime
	}
	assert.Equal(t, 6, route.Stops[len(route.Stops)-1].CumulativeLoad)

	assert.Equal(t, plan.TotalDistance, route.Distance)
	assert.Equal(t, ObjectiveDistance, plan.Objective)
	assert.False(t, plan.FallbackUsed)
}

func TestSolveCapacitySplit(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(6, 6, 6),
		Matrix:       lineMatrix([]float64{0, 1, 2, 3}),
		VehicleCount: 2,
		Capacity:     12,
		RouteMode:    models.RouteModeClosedTour,
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.Routes, 2)

	seen := map[string]int{}
	for _, route := range plan.Routes {
		assert.LessOrEqual(t, route.Load, 12)
		for _, s := range route.Stops {
			if s.StopID != "depot" {
				seen[s.StopID]++
			}
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
	assert.Equal(t, 18, plan.TotalLoad)
}

func TestSolveOpenEndStaysOut(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(2, 2),
		Matrix:       lineMatrix([]float64{0, 1, 2}),
		VehicleCount: 1,
		Capacity:     10,
		RouteMode:    models.RouteModeOpenEnd,
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.Routes, 1)

	route := plan.Routes[0]
	last := route.Stops[len(route.Stops)-1]
	assert.NotEqual(t, "depot", last.StopID)
	assert.Equal(t, 2000.0, route.Distance) // no closing arc back to the depot
}

func TestSolveInfeasibleTotalDemand(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(10, 10, 10),
		Matrix:       lineMatrix([]float64{0, 1, 2, 3}),
		VehicleCount: 2,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
	}

	_, err := solver.Solve(context.Background(), req)
	var infeasible *ErrInfeasible
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, 30, infeasible.TotalDemand)
	assert.Equal(t, 20, infeasible.TotalCapacity)
	assert.Empty(t, infeasible.StopID)
}

func TestSolveInfeasibleOversizedStop(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(15),
		Matrix:       lineMatrix([]float64{0, 1}),
		VehicleCount: 3,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
	}

	_, err := solver.Solve(context.Background(), req)
	var infeasible *ErrInfeasible
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, "a", infeasible.StopID)
}

func TestSolveNoSolutionWhenDemandsDoNotPack(t *testing.T) {
	solver := NewSolver()

	// 6+6+6 = 18 fits 2x10 in aggregate, but no two stops share a vehicle
	req := &SolveRequest{
		Stops:        depotFirstStops(6, 6, 6),
		Matrix:       lineMatrix([]float64{0, 1, 2, 3}),
		VehicleCount: 2,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
	}

	_, err := solver.Solve(context.Background(), req)
	var noSolution *ErrNoSolution
	require.ErrorAs(t, err, &noSolution)
}

func TestSolveDerivesVehicleCount(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(4, 4, 4),
		Matrix:       lineMatrix([]float64{0, 1, 2, 3}),
		VehicleCount: 0, // 12/10 + 1 = 2 vehicles
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.VehicleCount)
	assert.Equal(t, 12, plan.TotalLoad)
}

func TestSolveBadInput(t *testing.T) {
	matrix := lineMatrix([]float64{0, 1})
	valid := func() *SolveRequest {
		return &SolveRequest{
			Stops:        depotFirstStops(1),
			Matrix:       matrix,
			VehicleCount: 1,
			Capacity:     10,
			RouteMode:    models.RouteModeClosedTour,
		}
	}

	tests := []struct {
		name   string
		mutate func(*SolveRequest)
	}{
		{"no stops", func(r *SolveRequest) { r.Stops = nil }},
		{"depot only", func(r *SolveRequest) { r.Stops = r.Stops[:1] }},
		{"depot not first", func(r *SolveRequest) { r.Stops[0], r.Stops[1] = r.Stops[1], r.Stops[0] }},
		{"depot with demand", func(r *SolveRequest) { r.Stops[0].Demand = 2 }},
		{"second depot", func(r *SolveRequest) { r.Stops[1].IsDepot = true }},
		{"negative demand", func(r *SolveRequest) { r.Stops[1].Demand = -1 }},
		{"zero capacity", func(r *SolveRequest) { r.Capacity = 0 }},
		{"negative vehicles", func(r *SolveRequest) { r.VehicleCount = -1 }},
		{"bad route mode", func(r *SolveRequest) { r.RouteMode = "loop" }},
		{"nil matrix", func(r *SolveRequest) { r.Matrix = nil }},
		{"matrix dimension mismatch", func(r *SolveRequest) { r.Matrix = lineMatrix([]float64{0, 1, 2}) }},
		{"unknown objective", func(r *SolveRequest) { r.Objective.Primary = "profit" }},
		{"unknown tie-breaker", func(r *SolveRequest) { r.Objective = ObjectiveSpec{Primary: ObjectiveDistance, TieBreakers: []string{"speed"}} }},
		{"too many tie-breakers", func(r *SolveRequest) {
			r.Objective = ObjectiveSpec{Primary: ObjectiveDistance, TieBreakers: []string{ObjectiveTime, ObjectiveVehicles, ObjectiveCost}}
		}},
		{"duplicate objective", func(r *SolveRequest) {
			r.Objective = ObjectiveSpec{Primary: ObjectiveDistance, TieBreakers: []string{ObjectiveDistance}}
		}},
		{"negative term weight", func(r *SolveRequest) {
			r.Objective = ObjectiveSpec{Primary: ObjectiveDistance, Terms: []WeightedTerm{{Name: TermCO2, Weight: -1}}}
		}},
		{"unknown term", func(r *SolveRequest) {
			r.Objective = ObjectiveSpec{Primary: ObjectiveDistance, Terms: []WeightedTerm{{Name: "noise", Weight: 1}}}
		}},
	}

	solver := NewSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, err := solver.Solve(context.Background(), req)
			var badInput *ErrBadInput
			assert.ErrorAs(t, err, &badInput)
		})
	}
}

func TestSolveTimeObjectiveUsesTimeMatrix(t *testing.T) {
	solver := NewSolver()

	// Distance says a-b is short, time says it is long; with a time primary
	// the longer-distance but faster tour must win
	pair := &models.MatrixPair{
		Distance: [][]float64{
			{0, 100, 100},
			{100, 0, 50},
			{100, 50, 0},
		},
		Time: [][]float64{
			{0, 10, 10},
			{10, 0, 500},
			{10, 500, 0},
		},
	}

	req := &SolveRequest{
		Stops:        depotFirstStops(1, 1),
		Matrix:       pair,
		VehicleCount: 2,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
		Objective:    ObjectiveSpec{Primary: ObjectiveTime},
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, plan.Routes, 2) // splitting avoids the 500s arc
	assert.Equal(t, 40.0, plan.ObjectiveValue)
}

func TestSolveMakespanFallsBackToDistance(t *testing.T) {
	solver := NewSolver()

	// Time values large enough that summing two arcs overflows float64,
	// while distance stays normal
	huge := math.MaxFloat64
	pair := &models.MatrixPair{
		Distance: [][]float64{
			{0, 1000},
			{1000, 0},
		},
		Time: [][]float64{
			{0, huge},
			{huge, 0},
		},
	}

	req := &SolveRequest{
		Stops:        depotFirstStops(1),
		Matrix:       pair,
		VehicleCount: 1,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
		Objective:    ObjectiveSpec{Primary: ObjectiveMakespan},
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, plan.FallbackUsed)
	assert.Equal(t, 2000.0, plan.ObjectiveValue)
}

func TestSolveExpiredContext(t *testing.T) {
	solver := NewSolver()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := &SolveRequest{
		Stops:        depotFirstStops(1, 1),
		Matrix:       lineMatrix([]float64{0, 1, 2}),
		VehicleCount: 1,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
		TimeBudget:   time.Second,
	}

	_, err := solver.Solve(ctx, req)
	var noSolution *ErrNoSolution
	require.ErrorAs(t, err, &noSolution)
}

func TestSolveWorkloadBalanceTerm(t *testing.T) {
	solver := NewSolver()

	req := &SolveRequest{
		Stops:        depotFirstStops(1, 1, 1, 1),
		Matrix:       lineMatrix([]float64{0, 1, 1, 1, 1}),
		VehicleCount: 2,
		Capacity:     10,
		RouteMode:    models.RouteModeClosedTour,
		Objective: ObjectiveSpec{
			Primary: ObjectiveDistance,
			Terms:   []WeightedTerm{{Name: TermWorkloadBalance, Weight: 1}},
		},
	}

	plan, err := solver.Solve(context.Background(), req)
	require.NoError(t, err)

	// Distance alone would load everything on one vehicle; the balance
	// penalty spreads the work across both
	require.Len(t, plan.Routes, 2)
	totalLoad := 0
	for _, route := range plan.Routes {
		assert.GreaterOrEqual(t, route.Load, 1)
		totalLoad += route.Load
	}
	assert.Equal(t, 4, totalLoad)
}

func TestIsBetterTuple(t *testing.T) {
	tests := []struct {
		name string
		a, b objectiveTuple
		want bool
	}{
		{"lower primary wins", objectiveTuple{1, 9, 9}, objectiveTuple{2, 0, 0}, true},
		{"higher primary loses", objectiveTuple{2, 0, 0}, objectiveTuple{1, 9, 9}, false},
		{"tie falls to second level", objectiveTuple{1, 3, 0}, objectiveTuple{1, 4, 0}, true},
		{"tie falls to third level", objectiveTuple{1, 3, 5}, objectiveTuple{1, 3, 6}, true},
		{"full tie is not better", objectiveTuple{1, 1, 1}, objectiveTuple{1, 1, 1}, false},
		{"within epsilon is a tie", objectiveTuple{1 + 1e-9, 0, 0}, objectiveTuple{1, 0, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBetterTuple(tt.a, tt.b))
		})
	}
}
