package vrp

import (
	"context"
	"fmt"
	"math"
	"time"

	"fleet-route-planner/internal/models"
)

// DefaultTimeBudget bounds the search when the caller does not set one
const DefaultTimeBudget = 60 * time.Second

// Solver produces an ordered plan from a matrix snapshot
type Solver interface {
	Solve(ctx context.Context, req *SolveRequest) (*models.Plan, error)
}

// SolveRequest is the optimizer input. Stops must be depot-first; the
// matrix pair is indexed by stop position. VehicleCount 0 derives a fleet
// size from total demand.
type SolveRequest struct {
	Stops        []models.Stop
	Matrix       *models.MatrixPair
	VehicleCount int
	Capacity     int
	RouteMode    models.RouteMode
	Objective    ObjectiveSpec
	TimeBudget   time.Duration
}

// ObjectiveSpec selects the primary objective, up to two tie-breakers and
// any weighted penalty terms folded into the primary scalar.
type ObjectiveSpec struct {
	Primary     string         `json:"primary"`
	TieBreakers []string       `json:"tie_breakers,omitempty"`
	Terms       []WeightedTerm `json:"terms,omitempty"`
}

// WeightedTerm is an additional penalty added onto the primary objective
type WeightedTerm struct {
	Name   string             `json:"name"`
	Weight float64            `json:"weight"`
	Params map[string]float64 `json:"params,omitempty"`
}

// ErrBadInput reports malformed solver input (caller's fault, no retry)
type ErrBadInput struct {
	Reason string
}

func (e *ErrBadInput) Error() string {
	return fmt.Sprintf("bad input: %s", e.Reason)
}

// ErrInfeasible reports demand that cannot fit the fleet. Detected before
// any search is attempted.
type ErrInfeasible struct {
	TotalDemand   int
	TotalCapacity int
	StopID        string // set when a single stop exceeds the vehicle capacity
}

func (e *ErrInfeasible) Error() string {
	if e.StopID != "" {
		return fmt.Sprintf("infeasible: stop %s demand exceeds vehicle capacity %d", e.StopID, e.TotalCapacity)
	}
	return fmt.Sprintf("infeasible: total demand %d exceeds fleet capacity %d", e.TotalDemand, e.TotalCapacity)
}

// ErrNoSolution reports that no feasible complete assignment was found
// within the time budget
type ErrNoSolution struct {
	Reason string
}

func (e *ErrNoSolution) Error() string {
	return fmt.Sprintf("no solution: %s", e.Reason)
}

func badInput(format string, args ...interface{}) error {
	return &ErrBadInput{Reason: fmt.Sprintf(format, args...)}
}

// validate checks the request in the documented order: shape errors first,
// then the infeasibility gate. Returns the resolved vehicle count.
func validate(req *SolveRequest) (int, error) {
	if req == nil || len(req.Stops) == 0 {
		return 0, badInput("no stops provided")
	}
	if len(req.Stops) < 2 {
		return 0, badInput("need at least one non-depot stop")
	}
	if !req.Stops[0].IsDepot {
		return 0, badInput("depot must be the first stop")
	}
	if req.Stops[0].Demand != 0 {
		return 0, badInput("depot demand must be 0")
	}
	for _, s := range req.Stops[1:] {
		if s.IsDepot {
			return 0, badInput("multiple depots in stop set")
		}
		if s.Demand < 0 {
			return 0, badInput("stop %s has negative demand", s.ID)
		}
	}
	if req.Capacity <= 0 {
		return 0, badInput("capacity must be positive")
	}
	if req.VehicleCount < 0 {
		return 0, badInput("vehicle count must be non-negative")
	}
	if !req.RouteMode.Valid() {
		return 0, badInput("invalid route mode %q", req.RouteMode)
	}
	if req.Matrix == nil {
		return 0, badInput("matrix pair is required")
	}
	if err := req.Matrix.Validate(len(req.Stops)); err != nil {
		return 0, &ErrBadInput{Reason: err.Error()}
	}
	if err := validateObjective(req.Objective); err != nil {
		return 0, err
	}

	totalDemand := 0
	for _, s := range req.Stops[1:] {
		totalDemand += s.Demand
	}

	vehicles := req.VehicleCount
	if vehicles == 0 {
		vehicles = totalDemand/req.Capacity + 1
	}

	// Infeasibility gate: fail fast, never attempt a search
	for _, s := range req.Stops[1:] {
		if s.Demand > req.Capacity {
			return 0, &ErrInfeasible{TotalDemand: totalDemand, TotalCapacity: req.Capacity, StopID: s.ID}
		}
	}
	if totalDemand > vehicles*req.Capacity {
		return 0, &ErrInfeasible{TotalDemand: totalDemand, TotalCapacity: vehicles * req.Capacity}
	}

	return vehicles, nil
}

// isFiniteWeight guards penalty weights against NaN/Inf and negatives
func isFiniteWeight(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0) && w >= 0
}
