package vrp

import "math"

// Objective names accepted as primary or tie-breaker
const (
	ObjectiveDistance = "distance"
	ObjectiveTime     = "time"
	ObjectiveVehicles = "vehicles"
	ObjectiveCost     = "cost"
	ObjectiveMakespan = "makespan"
)

// Additional weighted penalty term names
const (
	TermTimeWindow      = "time_window"
	TermWaitTime        = "wait_time"
	TermWorkloadBalance = "workload_balance"
	TermOvertime        = "overtime"
	TermCO2             = "co2"
	TermFixedCost       = "fixed_cost"
	TermUtilization     = "utilization"
)

const (
	// fixedVehicleCost keeps the cost objective stable: large fixed-cost
	// magnitudes destabilize the search, so the per-vehicle charge stays small
	fixedVehicleCost = 100.0

	// balanceSpanCoefficient scales the workload-balance span penalty
	balanceSpanCoefficient = 100.0

	// tupleEpsilon is the tolerance when comparing objective levels, so a
	// tie-breaker can decide between near-equal primaries without ever
	// overriding a real primary improvement
	tupleEpsilon = 1e-6
)

var objectiveNames = map[string]bool{
	ObjectiveDistance: true,
	ObjectiveTime:     true,
	ObjectiveVehicles: true,
	ObjectiveCost:     true,
	ObjectiveMakespan: true,
}

var termNames = map[string]bool{
	TermTimeWindow:      true,
	TermWaitTime:        true,
	TermWorkloadBalance: true,
	TermOvertime:        true,
	TermCO2:             true,
	TermFixedCost:       true,
	TermUtilization:     true,
}

func validateObjective(spec ObjectiveSpec) error {
	if spec.Primary == "" {
		return nil // defaults to distance
	}
	if !objectiveNames[spec.Primary] {
		return badInput("unknown objective %q", spec.Primary)
	}
	if len(spec.TieBreakers) > 2 {
		return badInput("at most two tie-breakers allowed, got %d", len(spec.TieBreakers))
	}
	seen := map[string]bool{spec.Primary: true}
	for _, tb := range spec.TieBreakers {
		if tb == "" || tb == "none" {
			continue
		}
		if !objectiveNames[tb] {
			return badInput("unknown tie-breaker %q", tb)
		}
		if seen[tb] {
			return badInput("duplicate objective %q across primary and tie-breakers", tb)
		}
		seen[tb] = true
	}
	for _, term := range spec.Terms {
		if !termNames[term.Name] {
			return badInput("unknown objective term %q", term.Name)
		}
		if !isFiniteWeight(term.Weight) {
			return badInput("term %q weight must be finite and non-negative", term.Name)
		}
	}
	return nil
}

// normalized fills defaults and drops "none" tie-breakers
func (s ObjectiveSpec) normalized() ObjectiveSpec {
	out := ObjectiveSpec{Primary: s.Primary, Terms: s.Terms}
	if out.Primary == "" {
		out.Primary = ObjectiveDistance
	}
	for _, tb := range s.TieBreakers {
		if tb != "" && tb != "none" {
			out.TieBreakers = append(out.TieBreakers, tb)
		}
	}
	return out
}

// objectiveTuple is the lexicographic comparison key of a candidate
// solution: primary (penalty terms folded in), then up to two tie-breakers.
// Unused levels hold 0 on both sides and never decide.
type objectiveTuple [3]float64

// isBetterTuple compares level by level with an epsilon tolerance, so an
// improvement at a higher level strictly dominates anything below it
func isBetterTuple(a, b objectiveTuple) bool {
	for i := 0; i < len(a); i++ {
		if a[i] < b[i]-tupleEpsilon {
			return true
		}
		if a[i] > b[i]+tupleEpsilon {
			return false
		}
	}
	return false
}

// evaluator scores candidate solutions against the objective spec
type evaluator struct {
	time     [][]float64
	distance [][]float64
	demands  []int
	capacity int
	open     bool // open_end mode: no closing arc back to the depot
	spec     ObjectiveSpec
}

// arcCost returns the matrix used for insertion deltas: time-flavoured
// objectives route on the time matrix, everything else on distance
func (e *evaluator) arcCost() [][]float64 {
	if e.spec.Primary == ObjectiveTime || e.spec.Primary == ObjectiveMakespan {
		return e.time
	}
	return e.distance
}

// routeSum walks one route (non-depot node indices) over a matrix,
// including the depot legs per route mode
func (e *evaluator) routeSum(mat [][]float64, route []int) float64 {
	if len(route) == 0 {
		return 0
	}
	total := mat[0][route[0]]
	for i := 1; i < len(route); i++ {
		total += mat[route[i-1]][route[i]]
	}
	if !e.open {
		total += mat[route[len(route)-1]][0]
	}
	return total
}

func (e *evaluator) usedVehicles(routes [][]int) int {
	used := 0
	for _, r := range routes {
		if len(r) > 0 {
			used++
		}
	}
	return used
}

// scalar evaluates a single named objective over the whole solution
func (e *evaluator) scalar(name string, routes [][]int) float64 {
	switch name {
	case ObjectiveDistance:
		total := 0.0
		for _, r := range routes {
			total += e.routeSum(e.distance, r)
		}
		return total
	case ObjectiveTime:
		total := 0.0
		for _, r := range routes {
			total += e.routeSum(e.time, r)
		}
		return total
	case ObjectiveVehicles:
		return float64(e.usedVehicles(routes))
	case ObjectiveCost:
		total := 0.0
		for _, r := range routes {
			total += e.routeSum(e.distance, r)
		}
		return total + fixedVehicleCost*float64(e.usedVehicles(routes))
	case ObjectiveMakespan:
		longest := 0.0
		for _, r := range routes {
			if t := e.routeSum(e.time, r); t > longest {
				longest = t
			}
		}
		return longest
	}
	return math.NaN()
}

// penalties folds the weighted terms into a single addend on the primary
func (e *evaluator) penalties(routes [][]int) float64 {
	if len(e.spec.Terms) == 0 {
		return 0
	}
	total := 0.0
	for _, term := range e.spec.Terms {
		if term.Weight == 0 {
			continue
		}
		total += term.Weight * e.termValue(term, routes)
	}
	return total
}

func (e *evaluator) termValue(term WeightedTerm, routes [][]int) float64 {
	switch term.Name {
	case TermTimeWindow:
		earliest := term.Params["earliest"]
		latest := term.Params["latest"]
		violation := 0.0
		e.eachArrival(routes, func(arrival float64) {
			if arrival < earliest {
				violation += earliest - arrival
			}
			if latest > 0 && arrival > latest {
				violation += arrival - latest
			}
		})
		return violation
	case TermWaitTime:
		earliest := term.Params["earliest"]
		wait := 0.0
		e.eachArrival(routes, func(arrival float64) {
			if arrival < earliest {
				wait += earliest - arrival
			}
		})
		return wait
	case TermWorkloadBalance:
		// Idle vehicles count as zero-length routes, so the penalty can
		// pull work onto an unused vehicle
		minVal, maxVal := math.Inf(1), 0.0
		mat := e.arcCost()
		for _, r := range routes {
			v := e.routeSum(mat, r)
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
		if math.IsInf(minVal, 1) {
			return 0
		}
		return balanceSpanCoefficient * (maxVal - minVal)
	case TermOvertime:
		shift := term.Params["shift_seconds"]
		overtime := 0.0
		for _, r := range routes {
			if t := e.routeSum(e.time, r); t > shift {
				overtime += t - shift
			}
		}
		return overtime
	case TermCO2:
		total := 0.0
		for _, r := range routes {
			total += e.routeSum(e.distance, r)
		}
		return total
	case TermFixedCost:
		return float64(e.usedVehicles(routes))
	case TermUtilization:
		slack := 0.0
		for _, r := range routes {
			if len(r) == 0 {
				continue
			}
			load := 0
			for _, node := range r {
				load += e.demands[node]
			}
			slack += float64(e.capacity-load) / float64(e.capacity)
		}
		return slack
	}
	return 0
}

// eachArrival visits the provisional matrix-based arrival of every
// non-depot stop (seconds from departure)
func (e *evaluator) eachArrival(routes [][]int, fn func(arrival float64)) {
	for _, r := range routes {
		elapsed := 0.0
		prev := 0
		for _, node := range r {
			elapsed += e.time[prev][node]
			fn(elapsed)
			prev = node
		}
	}
}

// tuple builds the full lexicographic comparison key of a solution
func (e *evaluator) tuple(routes [][]int) objectiveTuple {
	var t objectiveTuple
	t[0] = e.scalar(e.spec.Primary, routes) + e.penalties(routes)
	for i, tb := range e.spec.TieBreakers {
		if i >= 2 {
			break
		}
		t[i+1] = e.scalar(tb, routes)
	}
	return t
}

// finite reports whether every tuple level is a usable number
func (t objectiveTuple) finite() bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
