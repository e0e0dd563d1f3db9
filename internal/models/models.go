package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// BaselineScenarioID addresses the implicit baseline scenario of a project.
const BaselineScenarioID = "baseline"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// IsValidID reports whether a project or edit scenario id is well-formed
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// RouteMode controls whether vehicle routes return to the depot
type RouteMode string

const (
	// RouteModeClosedTour ends every route back at the depot
	RouteModeClosedTour RouteMode = "closed_tour"
	// RouteModeOpenEnd ends every route at its last non-depot stop
	RouteModeOpenEnd RouteMode = "open_end"
)

// Valid reports whether the mode is one of the two supported modes
func (m RouteMode) Valid() bool {
	return m == RouteModeClosedTour || m == RouteModeOpenEnd
}

// Coordinates represents a WGS84 geographic point
type Coordinates struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Stop represents the depot or a delivery stop of a project
type Stop struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Lon       float64   `json:"lon"`
	Lat       float64   `json:"lat"`
	Demand    int       `json:"demand"`
	IsDepot   bool      `json:"is_depot"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetCoords returns the coordinates of the stop
func (s *Stop) GetCoords() Coordinates {
	return Coordinates{Lon: s.Lon, Lat: s.Lat}
}

// LocationType returns "depot" or "waypoint" for plan tables
func (s *Stop) LocationType() string {
	if s.IsDepot {
		return "depot"
	}
	return "waypoint"
}

// Project is a planning namespace: one stop set, one matrix snapshot,
// one baseline plan and any number of edit scenarios
type Project struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// MatrixPair holds the travel time (seconds) and distance (meters) matrices
// for a stop set. Both are square, indexed by stop position with the depot
// at 0, zero on the diagonal and not assumed symmetric. A stored pair is an
// immutable snapshot; the planner never mutates or recomputes it.
type MatrixPair struct {
	Time     [][]float64 `json:"time"`
	Distance [][]float64 `json:"distance"`
}

// Validate checks shape and value constraints against the expected dimension
func (m *MatrixPair) Validate(dim int) error {
	if m == nil {
		return fmt.Errorf("matrix pair is nil")
	}
	if err := validateMatrix("time", m.Time, dim); err != nil {
		return err
	}
	return validateMatrix("distance", m.Distance, dim)
}

func validateMatrix(name string, mat [][]float64, dim int) error {
	if len(mat) != dim {
		return fmt.Errorf("%s matrix has %d rows, expected %d", name, len(mat), dim)
	}
	for i, row := range mat {
		if len(row) != dim {
			return fmt.Errorf("%s matrix row %d has %d columns, expected %d", name, i, len(row), dim)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s matrix value at [%d][%d] is not finite", name, i, j)
			}
			if v < 0 {
				return fmt.Errorf("%s matrix value at [%d][%d] is negative", name, i, j)
			}
			if i == j && v != 0 {
				return fmt.Errorf("%s matrix diagonal at [%d] is %v, expected 0", name, i, v)
			}
		}
	}
	return nil
}

// ContentHash identifies the snapshot content; it is stamped into every
// plan artifact derived from this matrix
func (m *MatrixPair) ContentHash() string {
	h := sha256.New()
	writeMatrix := func(mat [][]float64) {
		for _, row := range mat {
			for _, v := range row {
				h.Write([]byte(FormatCoord(v)))
				h.Write([]byte{0x1f})
			}
			h.Write([]byte{0x1e})
		}
	}
	writeMatrix(m.Time)
	h.Write([]byte{0x1d})
	writeMatrix(m.Distance)
	return hex.EncodeToString(h.Sum(nil))
}

// MatrixSnapshot is a stored matrix pair bound to the stop set it was
// computed against
type MatrixSnapshot struct {
	ProjectID string     `json:"project_id"`
	StopHash  string     `json:"stop_hash"`
	Hash      string     `json:"hash"`
	Dimension int        `json:"dimension"`
	Matrix    MatrixPair `json:"matrix"`
	CreatedAt time.Time  `json:"created_at"`
}

// FormatCoord renders a float at full precision. Hashes and fingerprints
// use it so that two positions compare equal only when their stored values
// are bit-equal.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// StopSetHash hashes the ordered (id, lon, lat, demand) tuples of a stop
// set. Any reorder, move, demand change, insertion or removal changes it.
func StopSetHash(stops []Stop) string {
	h := sha256.New()
	for _, s := range stops {
		h.Write([]byte(s.ID))
		h.Write([]byte{0x1f})
		h.Write([]byte(FormatCoord(s.Lon)))
		h.Write([]byte{0x1f})
		h.Write([]byte(FormatCoord(s.Lat)))
		h.Write([]byte{0x1f})
		h.Write([]byte(strconv.Itoa(s.Demand)))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Provider search option names, mapped to wire codes by the tmap package
const (
	SearchOptionRecommended = "recommended"
	SearchOptionFreeRoads   = "free-roads"
	SearchOptionFastest     = "fastest"
	SearchOptionBeginner    = "beginner"
	SearchOptionTruck       = "truck"
)

// Provider vehicle class names, mapped to wire carType codes by the tmap package
const (
	VehicleClassPassenger    = "passenger"
	VehicleClassMidVan       = "mid-van"
	VehicleClassLargeVan     = "large-van"
	VehicleClassLargeTruck   = "large-truck"
	VehicleClassSpecialTruck = "special-truck"
)

// DefaultViaDwellSecs is the dwell applied at every via when the caller
// does not override it.
const DefaultViaDwellSecs = 60

// MaterializeParams are the provider-facing knobs of a materialization run.
// All of them enter the vehicle fingerprints, so changing any of them
// regenerates every route on the next delta run.
type MaterializeParams struct {
	SearchOption string    `json:"search_option"`
	VehicleClass string    `json:"vehicle_class"`
	DepartAt     time.Time `json:"depart_at"`
	ViaDwellSecs int       `json:"via_dwell_seconds"`
	RouteMode    RouteMode `json:"route_mode"`
}

// Normalized applies defaults and truncates the departure to minute
// precision, matching the provider's startTime resolution
func (p MaterializeParams) Normalized() MaterializeParams {
	if p.SearchOption == "" {
		p.SearchOption = SearchOptionRecommended
	}
	if p.VehicleClass == "" {
		p.VehicleClass = VehicleClassLargeVan
	}
	if p.ViaDwellSecs <= 0 {
		p.ViaDwellSecs = DefaultViaDwellSecs
	}
	if p.RouteMode == "" {
		p.RouteMode = RouteModeClosedTour
	}
	p.DepartAt = p.DepartAt.Truncate(time.Minute)
	return p
}
