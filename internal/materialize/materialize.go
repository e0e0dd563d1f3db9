package materialize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"fleet-route-planner/internal/models"
	"fleet-route-planner/internal/tmap"
)

// vehicleTimeout bounds one vehicle's materialization including retries
const vehicleTimeout = 60 * time.Second

// Machine-readable failure reasons stored on failed vehicle routes
const (
	ReasonTimeout             = "timeout"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonInvalidRequest      = "invalid_request"
	ReasonDegenerateGeometry  = "degenerate_geometry"
	ReasonCanceled            = "canceled"
)

// WaypointSpec is one stop visit to materialize
type WaypointSpec struct {
	ID     string
	Name   string
	Lon    float64
	Lat    float64
	Demand int
}

// VehicleJob is one vehicle's materialization work: its ordered stops
// (depot first) and the fingerprint to stamp on success
type VehicleJob struct {
	VehicleID   int
	Stops       []WaypointSpec
	Fingerprint string
}

// ErrAllVehiclesFailed reports a run where every vehicle failed with a
// provider error, meaning the provider is effectively down
type ErrAllVehiclesFailed struct {
	Vehicles int
}

func (e *ErrAllVehiclesFailed) Error() string {
	return fmt.Sprintf("all %d vehicles failed with provider errors", e.Vehicles)
}

// Materializer turns ordered vehicle plans into road geometry with
// authoritative per-waypoint cumulative annotations
type Materializer struct {
	provider tmap.DirectionsProvider
}

func NewMaterializer(provider tmap.DirectionsProvider) *Materializer {
	return &Materializer{provider: provider}
}

// Materialize runs the jobs concurrently, one provider call per vehicle.
// One vehicle's failure never aborts the others; results come back in
// ascending vehicle-id order. The error is non-nil only when every vehicle
// failed with a provider error.
func (m *Materializer) Materialize(ctx context.Context, jobs []VehicleJob, params models.MaterializeParams) ([]models.VehicleRoute, error) {
	params = params.Normalized()

	searchOption, err := tmap.SearchOptionCode(params.SearchOption)
	if err != nil {
		return nil, err
	}
	carType, err := tmap.CarTypeCode(params.VehicleClass)
	if err != nil {
		return nil, err
	}

	// Vehicles with no assigned stops are skipped entirely
	active := make([]VehicleJob, 0, len(jobs))
	for _, job := range jobs {
		if len(job.Stops) >= 2 {
			active = append(active, job)
		}
	}
	if len(active) == 0 {
		return []models.VehicleRoute{}, nil
	}

	start := time.Now()
	log.Printf("[MATERIALIZE] Starting run: vehicles=%d option=%s class=%s mode=%s",
		len(active), params.SearchOption, params.VehicleClass, params.RouteMode)

	results := make([]models.VehicleRoute, len(active))
	var wg sync.WaitGroup
	for i, job := range active {
		// Cancelable at vehicle granularity: stop launching once the
		// context is done, mark the rest without calling the provider
		if ctx.Err() != nil {
			results[i] = m.failedRoute(job, params, models.VehicleStatusProviderError, ReasonCanceled)
			continue
		}
		wg.Add(1)
		go func(idx int, job VehicleJob) {
			defer wg.Done()
			results[idx] = m.materializeVehicle(ctx, job, params, searchOption, carType)
		}(i, job)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].VehicleID < results[j].VehicleID })

	failed := 0
	for _, r := range results {
		if r.Status == models.VehicleStatusProviderError {
			failed++
		}
	}
	log.Printf("[TIMING] Materialize run: vehicles=%d failed=%d elapsed=%v", len(results), failed, time.Since(start))

	if failed == len(results) {
		return results, &ErrAllVehiclesFailed{Vehicles: failed}
	}
	return results, nil
}

// sequence returns the full ordered waypoint list of a job under the route
// mode: the depot is appended at the end for closed tours
func sequence(job VehicleJob, mode models.RouteMode) []WaypointSpec {
	if mode == models.RouteModeOpenEnd {
		return job.Stops
	}
	seq := make([]WaypointSpec, 0, len(job.Stops)+1)
	seq = append(seq, job.Stops...)
	depot := job.Stops[0]
	depot.Demand = 0
	return append(seq, depot)
}

func (m *Materializer) materializeVehicle(ctx context.Context, job VehicleJob, params models.MaterializeParams, searchOption, carType int) models.VehicleRoute {
	vehicleCtx, cancel := context.WithTimeout(ctx, vehicleTimeout)
	defer cancel()

	seq := sequence(job, params.RouteMode)
	last := len(seq) - 1

	req := &tmap.RouteRequest{
		Start:        tmap.Point{ID: seq[0].ID, Name: seq[0].Name, Lon: seq[0].Lon, Lat: seq[0].Lat},
		End:          tmap.Point{ID: seq[last].ID, Name: seq[last].Name, Lon: seq[last].Lon, Lat: seq[last].Lat},
		SearchOption: searchOption,
		CarType:      carType,
		DepartAt:     params.DepartAt,
		ViaDwellSecs: params.ViaDwellSecs,
	}
	for _, via := range seq[1:last] {
		req.Vias = append(req.Vias, tmap.Point{ID: via.ID, Name: via.Name, Lon: via.Lon, Lat: via.Lat})
	}

	resp, err := m.provider.Route(vehicleCtx, req)
	if err != nil {
		reason := ReasonProviderUnavailable
		var invalid *tmap.ErrInvalidRequest
		if errors.Is(vehicleCtx.Err(), context.DeadlineExceeded) {
			reason = ReasonTimeout
		} else if errors.As(err, &invalid) {
			reason = ReasonInvalidRequest
		}
		log.Printf("[ERROR] Vehicle materialization failed: vehicle=%d reason=%s err=%v", job.VehicleID, reason, err)
		return m.failedRoute(job, params, models.VehicleStatusProviderError, reason)
	}

	path, err := buildVertexPath(resp)
	if err != nil {
		log.Printf("[ERROR] Vehicle geometry unreadable: vehicle=%d err=%v", job.VehicleID, err)
		return m.failedRoute(job, params, models.VehicleStatusNoMatch, ReasonDegenerateGeometry)
	}
	if path.len() < 2 {
		log.Printf("[ERROR] Vehicle geometry unusable: vehicle=%d vertices=%d", job.VehicleID, path.len())
		return m.failedRoute(job, params, models.VehicleStatusNoMatch, ReasonDegenerateGeometry)
	}

	lons := make([]float64, len(seq))
	lats := make([]float64, len(seq))
	for i, s := range seq {
		lons[i] = s.Lon
		lats[i] = s.Lat
	}
	indices := path.align(lons, lats)

	totalTime, totalDist := path.totals()
	waypoints := make([]models.Waypoint, len(seq))
	for i, s := range seq {
		idx := indices[i]
		waypoints[i] = models.Waypoint{
			ID:                 s.ID,
			Name:               s.Name,
			Lon:                s.Lon,
			Lat:                s.Lat,
			Demand:             s.Demand,
			CumulativeTime:     path.cumTime[idx],
			CumulativeDistance: path.cumDist[idx],
			ArrivalTime:        arrivalTime(params.DepartAt, path.cumTime[idx]),
		}
	}

	load := 0
	for _, s := range job.Stops {
		load += s.Demand
	}

	route := models.VehicleRoute{
		VehicleID:   job.VehicleID,
		Status:      models.VehicleStatusOK,
		Fingerprint: job.Fingerprint,
		StartPoint:  waypoints[0],
		EndPoint:    waypoints[len(waypoints)-1],
		ViaPoints:   waypoints[1 : len(waypoints)-1],
		Waypoints:   waypoints,
		RouteGeometry: &models.Geometry{
			Type:        "LineString",
			Coordinates: path.vertices,
		},
		TotalDistance: totalDist,
		TotalTime:     totalTime,
		RouteLoad:     load,
	}

	log.Printf("[MATERIALIZE] Vehicle done: vehicle=%d stops=%d vertices=%d distance=%.0fm time=%.0fs",
		job.VehicleID, len(job.Stops)-1, path.len(), totalDist, totalTime)
	return route
}

// failedRoute keeps the planned waypoint sequence with zero cumulatives,
// a null geometry and a machine-readable reason. No fingerprint is stored,
// so the next delta run retries the vehicle.
func (m *Materializer) failedRoute(job VehicleJob, params models.MaterializeParams, status, reason string) models.VehicleRoute {
	seq := sequence(job, params.RouteMode)

	waypoints := make([]models.Waypoint, len(seq))
	load := 0
	for i, s := range seq {
		waypoints[i] = models.Waypoint{ID: s.ID, Name: s.Name, Lon: s.Lon, Lat: s.Lat, Demand: s.Demand}
		load += s.Demand
	}

	return models.VehicleRoute{
		VehicleID:  job.VehicleID,
		Status:     status,
		Error:      reason,
		StartPoint: waypoints[0],
		EndPoint:   waypoints[len(waypoints)-1],
		ViaPoints:  waypoints[1 : len(waypoints)-1],
		Waypoints:  waypoints,
		RouteLoad:  load,
	}
}

func arrivalTime(departAt time.Time, cumulativeSecs float64) string {
	if departAt.IsZero() {
		return ""
	}
	return departAt.Add(time.Duration(cumulativeSecs * float64(time.Second))).Format(time.RFC3339)
}
