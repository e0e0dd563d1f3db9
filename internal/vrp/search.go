package vrp

import (
	"context"
	"log"
	"sort"
	"time"

	"fleet-route-planner/internal/models"
)

const maxInterRouteIterations = 50

// localSearchSolver is the capacitated optimizer: cheapest-insertion seed,
// per-route 2-opt, then inter-route relocate/swap under a hard deadline
type localSearchSolver struct{}

// NewSolver creates the local-search VRP solver
func NewSolver() Solver {
	return &localSearchSolver{}
}

func (s *localSearchSolver) Solve(ctx context.Context, req *SolveRequest) (*models.Plan, error) {
	totalStart := time.Now()

	vehicles, err := validate(req)
	if err != nil {
		return nil, err
	}

	budget := req.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	ctx, cancel := context.WithDeadline(ctx, time.Now().Add(budget))
	defer cancel()

	spec := req.Objective.normalized()
	log.Printf("[SOLVER] Starting solve: stops=%d vehicles=%d capacity=%d mode=%s objective=%s budget=%v",
		len(req.Stops)-1, vehicles, req.Capacity, req.RouteMode, spec.Primary, budget)

	plan, err := s.solveWithSpec(ctx, req, vehicles, spec)
	if err == nil {
		log.Printf("[TIMING] Solve TOTAL: %v", time.Since(totalStart))
		return plan, nil
	}

	// Cost- and makespan-style objectives can blow up on pathological
	// matrix magnitudes; retry once with a distance primary and record
	// the fallback instead of failing the request.
	if _, unstable := err.(*errObjectiveUnstable); unstable {
		if spec.Primary == ObjectiveCost || spec.Primary == ObjectiveMakespan {
			log.Printf("[SOLVER] Objective %s unstable, falling back to distance primary", spec.Primary)
			fallbackSpec := spec
			fallbackSpec.Primary = ObjectiveDistance
			plan, ferr := s.solveWithSpec(ctx, req, vehicles, fallbackSpec)
			if ferr == nil {
				plan.FallbackUsed = true
				log.Printf("[TIMING] Solve TOTAL (with fallback): %v", time.Since(totalStart))
				return plan, nil
			}
		}
		return nil, &ErrNoSolution{Reason: err.Error()}
	}

	return nil, err
}

// errObjectiveUnstable is internal: the objective produced a non-finite
// scalar during setup or search
type errObjectiveUnstable struct{}

func (e *errObjectiveUnstable) Error() string {
	return "objective evaluation produced a non-finite value"
}

func (s *localSearchSolver) solveWithSpec(ctx context.Context, req *SolveRequest, vehicles int, spec ObjectiveSpec) (*models.Plan, error) {
	demands := make([]int, len(req.Stops))
	for i, stop := range req.Stops {
		demands[i] = stop.Demand
	}

	eval := &evaluator{
		time:     req.Matrix.Time,
		distance: req.Matrix.Distance,
		demands:  demands,
		capacity: req.Capacity,
		open:     req.RouteMode == models.RouteModeOpenEnd,
		spec:     spec,
	}

	// Phase 1: cheapest-insertion seed
	seedStart := time.Now()
	routes, err := s.seedRoutes(ctx, eval, vehicles, len(req.Stops))
	if err != nil {
		return nil, err
	}
	log.Printf("[TIMING] Phase 1 (insertion seed): %v", time.Since(seedStart))

	if !eval.tuple(routes).finite() {
		return nil, &errObjectiveUnstable{}
	}

	// Phase 2: per-route 2-opt
	phase2Start := time.Now()
	for _, route := range routes {
		s.twoOpt(ctx, eval, route)
	}
	log.Printf("[TIMING] Phase 2 (2-opt): %v", time.Since(phase2Start))

	// Phase 3: inter-route relocate/swap on the full objective tuple
	phase3Start := time.Now()
	iterations := s.interRoute(ctx, eval, routes)
	log.Printf("[TIMING] Phase 3 (inter-route): %v (iterations=%d)", time.Since(phase3Start), iterations)

	final := eval.tuple(routes)
	if !final.finite() {
		return nil, &errObjectiveUnstable{}
	}

	plan := s.buildPlan(req, spec, routes, final[0])
	log.Printf("[SOLVER] Solve complete: routes=%d total_distance=%.0fm total_time=%.0fs objective=%.2f",
		len(plan.Routes), plan.TotalDistance, plan.TotalTime, plan.ObjectiveValue)
	return plan, nil
}

// seedRoutes inserts every non-depot node at its globally cheapest feasible
// position. Candidate order is deterministic: largest demand first, then id.
func (s *localSearchSolver) seedRoutes(ctx context.Context, eval *evaluator, vehicles, nodeCount int) ([][]int, error) {
	unassigned := make([]int, 0, nodeCount-1)
	for node := 1; node < nodeCount; node++ {
		unassigned = append(unassigned, node)
	}
	sort.Slice(unassigned, func(i, j int) bool {
		a, b := unassigned[i], unassigned[j]
		if eval.demands[a] != eval.demands[b] {
			return eval.demands[a] > eval.demands[b]
		}
		return a < b
	})

	routes := make([][]int, vehicles)
	loads := make([]int, vehicles)
	mat := eval.arcCost()

	for _, node := range unassigned {
		if err := ctx.Err(); err != nil {
			return nil, &ErrNoSolution{Reason: "time budget expired during seeding"}
		}

		bestDelta := 0.0
		bestVehicle, bestPos := -1, -1
		for v := range routes {
			if loads[v]+eval.demands[node] > eval.capacity {
				continue
			}
			for pos := 0; pos <= len(routes[v]); pos++ {
				delta := insertionDelta(mat, routes[v], node, pos, eval.open)
				if bestVehicle == -1 || delta < bestDelta {
					bestDelta = delta
					bestVehicle = v
					bestPos = pos
				}
			}
		}

		if bestVehicle == -1 {
			// Capacity gate passed in aggregate but no single vehicle can
			// take this node: the demands do not pack into the fleet.
			return nil, &ErrNoSolution{Reason: "demands do not pack into the available vehicles"}
		}

		routes[bestVehicle] = insertAt(routes[bestVehicle], node, bestPos)
		loads[bestVehicle] += eval.demands[node]
	}

	return routes, nil
}

// insertionDelta is the arc-cost increase of placing node at pos:
// ins(a, b, p) = c(a, p) + c(p, b) - c(a, b), with the depot closing the
// route only in closed mode
func insertionDelta(mat [][]float64, route []int, node, pos int, open bool) float64 {
	prev := 0
	if pos > 0 {
		prev = route[pos-1]
	}
	if pos == len(route) {
		if open {
			return mat[prev][node] // new last stop, no closing arc
		}
		return mat[prev][node] + mat[node][0] - mat[prev][0]
	}
	next := route[pos]
	return mat[prev][node] + mat[node][next] - mat[prev][next]
}

func insertAt(route []int, node, pos int) []int {
	route = append(route, 0)
	copy(route[pos+1:], route[pos:])
	route[pos] = node
	return route
}

// twoOpt reverses segments of a single route until no arc-cost improvement
// remains or the deadline expires
func (s *localSearchSolver) twoOpt(ctx context.Context, eval *evaluator, route []int) {
	if len(route) < 3 {
		return
	}
	mat := eval.arcCost()

	improved := true
	for improved {
		improved = false
		if ctx.Err() != nil {
			return
		}
		for i := 0; i < len(route)-1; i++ {
			for j := i + 2; j <= len(route); j++ {
				prev := 0
				if i > 0 {
					prev = route[i-1]
				}

				var current, candidate float64
				if j < len(route) {
					next := route[j]
					current = mat[prev][route[i]] + mat[route[j-1]][next]
					candidate = mat[prev][route[j-1]] + mat[route[i]][next]
				} else if eval.open {
					// reversing the tail changes which stop is last
					current = mat[prev][route[i]]
					candidate = mat[prev][route[j-1]]
					for k := i; k < j-1; k++ {
						current += mat[route[k]][route[k+1]]
						candidate += mat[route[j-1-(k-i)]][route[j-2-(k-i)]]
					}
				} else {
					current = mat[prev][route[i]] + mat[route[j-1]][0]
					candidate = mat[prev][route[j-1]] + mat[route[i]][0]
				}

				if candidate < current-tupleEpsilon {
					for left, right := i, j-1; left < right; left, right = left+1, right-1 {
						route[left], route[right] = route[right], route[left]
					}
					improved = true
				}
			}
		}
	}
}

// interRoute runs relocate and swap passes across vehicle pairs, accepting
// a move only when the full objective tuple improves
func (s *localSearchSolver) interRoute(ctx context.Context, eval *evaluator, routes [][]int) int {
	iteration := 0
	improved := true

	for improved && iteration < maxInterRouteIterations {
		improved = false
		iteration++
		if ctx.Err() != nil {
			return iteration
		}

		for a := 0; a < len(routes); a++ {
			for b := 0; b < len(routes); b++ {
				if a == b {
					continue
				}
				if s.tryRelocate(eval, routes, a, b) {
					improved = true
				}
				if b > a && s.trySwap(eval, routes, a, b) {
					improved = true
				}
			}
		}
	}

	return iteration
}

func routeLoad(eval *evaluator, route []int) int {
	load := 0
	for _, node := range route {
		load += eval.demands[node]
	}
	return load
}

// tryRelocate moves one node from route a to the best position in route b
// if the whole-solution tuple improves
func (s *localSearchSolver) tryRelocate(eval *evaluator, routes [][]int, a, b int) bool {
	if len(routes[a]) == 0 {
		return false
	}

	current := eval.tuple(routes)
	best := current
	bestSrc, bestDst := -1, -1

	loadB := routeLoad(eval, routes[b])
	for src := 0; src < len(routes[a]); src++ {
		node := routes[a][src]
		if loadB+eval.demands[node] > eval.capacity {
			continue
		}
		trimmed := removeAt(routes[a], src)
		for dst := 0; dst <= len(routes[b]); dst++ {
			candidateA, candidateB := routes[a], routes[b]
			routes[a] = trimmed
			routes[b] = insertAt(append([]int(nil), candidateB...), node, dst)
			t := eval.tuple(routes)
			routes[a], routes[b] = candidateA, candidateB

			if isBetterTuple(t, best) {
				best = t
				bestSrc = src
				bestDst = dst
			}
		}
	}

	if bestSrc == -1 {
		return false
	}

	node := routes[a][bestSrc]
	routes[a] = removeAt(routes[a], bestSrc)
	routes[b] = insertAt(routes[b], node, bestDst)
	return true
}

// trySwap exchanges one node between routes a and b if the tuple improves
func (s *localSearchSolver) trySwap(eval *evaluator, routes [][]int, a, b int) bool {
	if len(routes[a]) == 0 || len(routes[b]) == 0 {
		return false
	}

	best := eval.tuple(routes)
	bestA, bestB := -1, -1
	loadA := routeLoad(eval, routes[a])
	loadB := routeLoad(eval, routes[b])

	for i := 0; i < len(routes[a]); i++ {
		for j := 0; j < len(routes[b]); j++ {
			na, nb := routes[a][i], routes[b][j]
			if loadA-eval.demands[na]+eval.demands[nb] > eval.capacity {
				continue
			}
			if loadB-eval.demands[nb]+eval.demands[na] > eval.capacity {
				continue
			}

			routes[a][i], routes[b][j] = nb, na
			t := eval.tuple(routes)
			routes[a][i], routes[b][j] = na, nb

			if isBetterTuple(t, best) {
				best = t
				bestA, bestB = i, j
			}
		}
	}

	if bestA == -1 {
		return false
	}
	routes[a][bestA], routes[b][bestB] = routes[b][bestB], routes[a][bestA]
	return true
}

func removeAt(route []int, pos int) []int {
	out := make([]int, 0, len(route)-1)
	out = append(out, route[:pos]...)
	return append(out, route[pos+1:]...)
}

// buildPlan walks the final routes into the ordered-plan shape with
// provisional matrix-based cumulatives. Vehicles with no stops are omitted;
// vehicle ids are 1-based in first-used order.
func (s *localSearchSolver) buildPlan(req *SolveRequest, spec ObjectiveSpec, routes [][]int, objectiveValue float64) *models.Plan {
	plan := &models.Plan{
		RouteMode:    req.RouteMode,
		Objective:    spec.Primary,
		Capacity:     req.Capacity,
		VehicleCount: len(routes),
	}

	open := req.RouteMode == models.RouteModeOpenEnd
	vehicleID := 0
	for _, route := range routes {
		if len(route) == 0 {
			continue
		}
		vehicleID++

		pr := models.PlannedRoute{VehicleID: vehicleID}
		depot := req.Stops[0]
		pr.Stops = append(pr.Stops, models.PlannedStop{
			StopID: depot.ID,
			Name:   depot.Name,
			Type:   depot.LocationType(),
		})

		cumDist, cumTime := 0.0, 0.0
		cumLoad := 0
		prev := 0
		for _, node := range route {
			stop := req.Stops[node]
			cumDist += req.Matrix.Distance[prev][node]
			cumTime += req.Matrix.Time[prev][node]
			cumLoad += stop.Demand
			pr.Stops = append(pr.Stops, models.PlannedStop{
				StopID:             stop.ID,
				Name:               stop.Name,
				Type:               stop.LocationType(),
				Demand:             stop.Demand,
				CumulativeLoad:     cumLoad,
				CumulativeDistance: cumDist,
				CumulativeTime:     cumTime,
			})
			prev = node
		}

		if !open {
			cumDist += req.Matrix.Distance[prev][0]
			cumTime += req.Matrix.Time[prev][0]
			pr.Stops = append(pr.Stops, models.PlannedStop{
				StopID:             depot.ID,
				Name:               depot.Name,
				Type:               depot.LocationType(),
				CumulativeLoad:     cumLoad,
				CumulativeDistance: cumDist,
				CumulativeTime:     cumTime,
			})
		}

		pr.Distance = cumDist
		pr.Time = cumTime
		pr.Load = cumLoad

		plan.Routes = append(plan.Routes, pr)
		plan.TotalDistance += cumDist
		plan.TotalTime += cumTime
		plan.TotalLoad += cumLoad
	}

	plan.ObjectiveValue = objectiveValue
	return plan
}
