package handlers

import (
	"log"
	"net/http"
	"time"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/models"
	"fleet-route-planner/internal/vrp"
)

// optimizeRequest is the POST /optimize payload
type optimizeRequest struct {
	VehicleCount      int               `json:"vehicle_count"`
	Capacity          int               `json:"capacity"`
	Objective         vrp.ObjectiveSpec `json:"objective"`
	RouteMode         models.RouteMode  `json:"route_mode"`
	TimeBudgetSeconds int               `json:"time_budget_seconds"`
}

// HandleOptimize handles POST /api/v1/optimize: solve against the stored
// matrix snapshot, persist the plan tables, return the plan
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}

	var req optimizeRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if req.RouteMode == "" {
		req.RouteMode = models.RouteModeClosedTour
	}

	stops, err := h.DB.Stops().List(r.Context(), projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	snap, err := h.DB.Matrices().Get(r.Context(), projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	// The snapshot must describe the stop set as it is now
	if snap.StopHash != models.StopSetHash(stops) {
		h.handleError(w, database.ErrStaleMatrix)
		return
	}

	budget := vrp.DefaultTimeBudget
	if req.TimeBudgetSeconds > 0 {
		budget = time.Duration(req.TimeBudgetSeconds) * time.Second
	}

	start := time.Now()
	plan, err := h.Solver.Solve(r.Context(), &vrp.SolveRequest{
		Stops:        stops,
		Matrix:       &snap.Matrix,
		VehicleCount: req.VehicleCount,
		Capacity:     req.Capacity,
		RouteMode:    req.RouteMode,
		Objective:    req.Objective,
		TimeBudget:   budget,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	if err := h.Plans.WritePlan(projectID, plan); err != nil {
		h.handleError(w, err)
		return
	}

	log.Printf("[PLANS] Optimized project %s: %d routes, objective=%s value=%.1f elapsed=%v",
		projectID, len(plan.Routes), plan.Objective, plan.ObjectiveValue, time.Since(start))
	h.writeJSON(w, http.StatusOK, plan)
}
