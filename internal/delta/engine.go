package delta

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/materialize"
	"fleet-route-planner/internal/models"
	"fleet-route-planner/internal/planstore"
)

// ErrStaleReference reports edit-plan rows pointing at stop ids that no
// longer exist in the project's stop set
type ErrStaleReference struct {
	StopIDs []string
}

func (e *ErrStaleReference) Error() string {
	return fmt.Sprintf("edit plan references missing stops: %s", strings.Join(e.StopIDs, ", "))
}

// ErrPartialMaterialization reports a reload where some vehicles failed.
// The artifact was still written; the stats carry the failed vehicle ids.
type ErrPartialMaterialization struct {
	Stats models.DeltaStats
}

func (e *ErrPartialMaterialization) Error() string {
	return fmt.Sprintf("%d of %d vehicles failed to materialize",
		e.Stats.Failed, e.Stats.Failed+e.Stats.Regenerated+e.Stats.Reused)
}

// Engine reconciles a scenario's tabular edit plan with its cached
// artifact, calling the directions provider only for vehicles whose
// fingerprint changed
type Engine struct {
	db    database.DataStore
	plans *planstore.Store
	mat   *materialize.Materializer
}

func NewEngine(db database.DataStore, plans *planstore.Store, mat *materialize.Materializer) *Engine {
	return &Engine{db: db, plans: plans, mat: mat}
}

// vehiclePlan is one vehicle's desired waypoint list with its fingerprint
type vehiclePlan struct {
	vehicleID   int
	stops       []materialize.WaypointSpec
	fingerprint string
}

// desiredPlans joins the scenario's edit plan rows with the current stop
// set and overrides into per-vehicle waypoint lists, depot first
func (e *Engine) desiredPlans(ctx context.Context, projectID, editID string, params models.MaterializeParams) ([]vehiclePlan, error) {
	rows, err := e.plans.ReadPlanRows(projectID, editID)
	if err != nil {
		return nil, err
	}

	stops, err := e.db.Stops().List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 || !stops[0].IsDepot {
		return nil, &ErrStaleReference{StopIDs: []string{"depot"}}
	}

	overrides, err := e.plans.ReadOverrides(projectID, editID)
	if err != nil {
		return nil, err
	}

	spec := func(s models.Stop) materialize.WaypointSpec {
		lon, lat := s.Lon, s.Lat
		if o, ok := overrides[s.ID]; ok {
			lon, lat = o.Lon, o.Lat
		}
		return materialize.WaypointSpec{ID: s.ID, Name: s.Name, Lon: lon, Lat: lat, Demand: s.Demand}
	}

	stopByID := make(map[string]models.Stop, len(stops))
	for _, s := range stops {
		stopByID[s.ID] = s
	}

	byVehicle := make(map[int][]models.EditPlanRow)
	var missing []string
	seen := make(map[string]bool)
	for _, row := range rows {
		if _, ok := stopByID[row.StopID]; !ok {
			if !seen[row.StopID] {
				missing = append(missing, row.StopID)
				seen[row.StopID] = true
			}
			continue
		}
		byVehicle[row.VehicleID] = append(byVehicle[row.VehicleID], row)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ErrStaleReference{StopIDs: missing}
	}

	depot := spec(stops[0])
	vehicleIDs := make([]int, 0, len(byVehicle))
	for id := range byVehicle {
		vehicleIDs = append(vehicleIDs, id)
	}
	sort.Ints(vehicleIDs)

	plans := make([]vehiclePlan, 0, len(vehicleIDs))
	for _, vehicleID := range vehicleIDs {
		vrows := byVehicle[vehicleID]
		sort.Slice(vrows, func(i, j int) bool { return vrows[i].StopOrder < vrows[j].StopOrder })

		specs := []materialize.WaypointSpec{depot}
		for _, row := range vrows {
			specs = append(specs, spec(stopByID[row.StopID]))
		}
		plans = append(plans, vehiclePlan{
			vehicleID:   vehicleID,
			stops:       specs,
			fingerprint: Fingerprint(specs, params),
		})
	}
	return plans, nil
}

func (e *Engine) matrixHash(ctx context.Context, projectID string) string {
	snap, err := e.db.Matrices().Get(ctx, projectID)
	if err != nil {
		return ""
	}
	return snap.Hash
}

// Reload reconciles scenario editID against its cached artifact under the
// scenario lock. Unchanged vehicles are reused verbatim; when nothing was
// regenerated or deleted the artifact file is not rewritten, so an
// unchanged scenario yields byte-identical artifact bytes and zero
// provider calls.
func (e *Engine) Reload(ctx context.Context, projectID, editID string, params models.MaterializeParams) (*models.PlanArtifact, *models.DeltaStats, error) {
	return e.run(ctx, projectID, editID, params, false)
}

// Materialize forces a full regeneration of every vehicle in the scenario,
// ignoring cached fingerprints
func (e *Engine) Materialize(ctx context.Context, projectID, editID string, params models.MaterializeParams) (*models.PlanArtifact, *models.DeltaStats, error) {
	return e.run(ctx, projectID, editID, params, true)
}

func (e *Engine) run(ctx context.Context, projectID, editID string, params models.MaterializeParams, force bool) (*models.PlanArtifact, *models.DeltaStats, error) {
	unlock := e.plans.LockScenario(projectID, editID)
	defer unlock()

	start := time.Now()
	params = params.Normalized()

	desired, err := e.desiredPlans(ctx, projectID, editID, params)
	if err != nil {
		return nil, nil, err
	}

	cached, err := e.plans.ReadArtifact(projectID, editID)
	if errors.Is(err, database.ErrNotFound) {
		cached = &models.PlanArtifact{}
	} else if err != nil {
		return nil, nil, err
	}

	var stats models.DeltaStats
	var reused []models.VehicleRoute
	var jobs []materialize.VehicleJob
	desiredIDs := make(map[int]bool, len(desired))

	for _, plan := range desired {
		desiredIDs[plan.vehicleID] = true
		if !force {
			if prior := cached.VehicleByID(plan.vehicleID); prior != nil &&
				prior.Status == models.VehicleStatusOK &&
				prior.Fingerprint == plan.fingerprint {
				reused = append(reused, *prior)
				stats.Reused++
				continue
			}
		}
		jobs = append(jobs, materialize.VehicleJob{
			VehicleID:   plan.vehicleID,
			Stops:       plan.stops,
			Fingerprint: plan.fingerprint,
		})
	}

	for _, prior := range cached.VehicleRoutes {
		if !desiredIDs[prior.VehicleID] {
			stats.Deleted++
		}
	}

	if len(jobs) == 0 && stats.Deleted == 0 {
		// Nothing changed: leave the artifact bytes untouched
		log.Printf("[DELTA] Reload no-op: project=%s edit=%s reused=%d elapsed=%v",
			projectID, editID, stats.Reused, time.Since(start))
		return cached, &stats, nil
	}

	regenerated, matErr := e.mat.Materialize(ctx, jobs, params)
	var allFailed *materialize.ErrAllVehiclesFailed
	if matErr != nil && errors.As(matErr, &allFailed) && stats.Reused == 0 {
		// Total outage and nothing reusable: fail the operation, leave the
		// artifact untouched
		return nil, nil, matErr
	}

	routes := append(reused, regenerated...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].VehicleID < routes[j].VehicleID })

	artifact := &models.PlanArtifact{
		GeneratedAt:   time.Now().UTC(),
		Params:        params,
		MatrixHash:    e.matrixHash(ctx, projectID),
		VehicleRoutes: routes,
	}
	for _, r := range routes {
		artifact.Statistics.RouteCount++
		artifact.Statistics.TotalDistanceM += r.TotalDistance
		artifact.Statistics.TotalTimeS += r.TotalTime
		artifact.Statistics.TotalLoad += r.RouteLoad
		if r.Status == models.VehicleStatusOK {
			stats.Regenerated++
		} else {
			stats.Failed++
			stats.FailedVehicleIDs = append(stats.FailedVehicleIDs, r.VehicleID)
			artifact.Statistics.FailedCount++
		}
	}
	stats.Regenerated -= stats.Reused
	sort.Ints(stats.FailedVehicleIDs)

	if err := e.plans.WriteArtifact(projectID, editID, artifact); err != nil {
		return nil, nil, err
	}

	log.Printf("[DELTA] Reload complete: project=%s edit=%s regenerated=%d reused=%d deleted=%d failed=%d elapsed=%v",
		projectID, editID, stats.Regenerated, stats.Reused, stats.Deleted, stats.Failed, time.Since(start))

	if stats.Failed > 0 {
		return artifact, &stats, &ErrPartialMaterialization{Stats: stats}
	}
	return artifact, &stats, nil
}
