package models

import "time"

// PlannedStop is one row of an ordered plan: a stop visit with cumulative
// values derived from the matrix snapshot. These are provisional; the
// materializer supersedes them with geometry-walk values.
type PlannedStop struct {
	StopID             string  `json:"stop_id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	Demand             int     `json:"demand"`
	CumulativeLoad     int     `json:"cumulative_load"`
	CumulativeDistance float64 `json:"cumulative_distance"`
	CumulativeTime     float64 `json:"cumulative_time"`
}

// PlannedRoute is a single vehicle's ordered stop sequence. It starts at
// the depot and ends at the depot (closed_tour) or at the last non-depot
// stop (open_end).
type PlannedRoute struct {
	VehicleID int           `json:"vehicle_id"`
	Stops     []PlannedStop `json:"stops"`
	Distance  float64       `json:"distance"`
	Time      float64       `json:"time"`
	Load      int           `json:"load"`
}

// Plan is the optimizer's ordered output: every non-depot stop appears
// exactly once across routes, no route load exceeds the capacity, and
// vehicles with no assigned stops are omitted.
type Plan struct {
	Routes         []PlannedRoute `json:"routes"`
	RouteMode      RouteMode      `json:"route_mode"`
	Objective      string         `json:"objective"`
	ObjectiveValue float64        `json:"objective_value"`
	FallbackUsed   bool           `json:"fallback_used"`
	TotalDistance  float64        `json:"total_distance"`
	TotalTime      float64        `json:"total_time"`
	TotalLoad      int            `json:"total_load"`
	VehicleCount   int            `json:"vehicle_count"`
	Capacity       int            `json:"capacity"`
}

// Waypoint is a materialized stop visit with authoritative cumulative
// annotations from the geometry walk. Cumulatives are non-decreasing along
// the route and zero at the first waypoint; arrival_time is the departure
// time plus cumulative_time.
type Waypoint struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Lon                float64 `json:"lon"`
	Lat                float64 `json:"lat"`
	Demand             int     `json:"demand"`
	CumulativeTime     float64 `json:"cumulative_time"`
	CumulativeDistance float64 `json:"cumulative_distance"`
	ArrivalTime        string  `json:"arrival_time,omitempty"`
}

// Geometry is a GeoJSON LineString with [lon, lat] vertex order
type Geometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// Per-vehicle materialization outcomes
const (
	VehicleStatusOK            = "ok"
	VehicleStatusProviderError = "provider_error"
	VehicleStatusNoMatch       = "no_match"
)

// VehicleRoute is one vehicle's materialized route. The provider's
// total_time and total_distance describe the returned geometry and are
// metadata only; waypoint cumulatives are the authoritative values. A
// failed vehicle keeps its waypoint sequence with a null geometry and a
// machine-readable error reason.
type VehicleRoute struct {
	VehicleID     int        `json:"vehicle_id"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	StartPoint    Waypoint   `json:"start_point"`
	EndPoint      Waypoint   `json:"end_point"`
	ViaPoints     []Waypoint `json:"via_points"`
	Waypoints     []Waypoint `json:"waypoints"`
	RouteGeometry *Geometry  `json:"route_geometry"`
	TotalDistance float64    `json:"total_distance"`
	TotalTime     float64    `json:"total_time"`
	RouteLoad     int        `json:"route_load"`
}

// Statistics aggregates a materialized artifact
type Statistics struct {
	RouteCount     int     `json:"route_count"`
	TotalDistanceM float64 `json:"total_distance_m"`
	TotalTimeS     float64 `json:"total_time_s"`
	TotalLoad      int     `json:"total_load"`
	FailedCount    int     `json:"failed_count,omitempty"`
}

// PlanArtifact is a materialized plan: vehicle routes in ascending
// vehicle-id order, stamped with the matrix snapshot hash and the
// materialization params they were generated under.
type PlanArtifact struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	Params        MaterializeParams `json:"params"`
	MatrixHash    string            `json:"matrix_hash"`
	VehicleRoutes []VehicleRoute    `json:"vehicle_routes"`
	Statistics    Statistics        `json:"statistics"`
}

// VehicleByID returns the artifact's route for a vehicle, or nil
func (a *PlanArtifact) VehicleByID(id int) *VehicleRoute {
	for i := range a.VehicleRoutes {
		if a.VehicleRoutes[i].VehicleID == id {
			return &a.VehicleRoutes[i]
		}
	}
	return nil
}

// RouteMetadata is the small baseline artifact summary kept alongside it
type RouteMetadata struct {
	LastGenerated  time.Time `json:"last_generated"`
	RouteCount     int       `json:"route_count"`
	TotalDistanceM float64   `json:"total_distance_m"`
	TotalTimeS     float64   `json:"total_time_s"`
}

// EditPlanRow is one row of a scenario's tabular edit plan. Rows cover
// non-depot stops only; depot placement comes from the stop set and the
// route mode. Stop order is 1-based within each vehicle.
type EditPlanRow struct {
	VehicleID int    `json:"vehicle_id"`
	StopOrder int    `json:"stop_order"`
	StopID    string `json:"stop_id"`
}

// EditScenario describes a named plan variant of a project
type EditScenario struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	HasArtifact  bool      `json:"has_artifact"`
	VehicleCount int       `json:"vehicle_count"`
}

// DeltaStats reports what an edit-delta run did
type DeltaStats struct {
	Regenerated      int   `json:"regenerated"`
	Reused           int   `json:"reused"`
	Deleted          int   `json:"deleted"`
	Failed           int   `json:"failed"`
	FailedVehicleIDs []int `json:"failed_vehicle_ids"`
}
