package tmap

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"fleet-route-planner/internal/models"
)

// startTimeLayout is the provider's departure format: minute precision,
// no separators
const startTimeLayout = "200601021504"

// Wire codes for the named search options
var searchOptionCodes = map[string]int{
	models.SearchOptionRecommended: 0,
	models.SearchOptionFreeRoads:   1,
	models.SearchOptionFastest:     2,
	models.SearchOptionBeginner:    3,
	models.SearchOptionTruck:       17,
}

// Wire codes for the named vehicle classes
var carTypeCodes = map[string]int{
	models.VehicleClassPassenger:    1,
	models.VehicleClassMidVan:       2,
	models.VehicleClassLargeVan:     3,
	models.VehicleClassLargeTruck:   4,
	models.VehicleClassSpecialTruck: 5,
}

// SearchOptionCode maps a named search option to its wire code
func SearchOptionCode(name string) (int, error) {
	code, ok := searchOptionCodes[name]
	if !ok {
		return 0, &ErrInvalidRequest{Reason: fmt.Sprintf("unknown search option %q", name)}
	}
	return code, nil
}

// CarTypeCode maps a named vehicle class to its wire carType code
func CarTypeCode(name string) (int, error) {
	code, ok := carTypeCodes[name]
	if !ok {
		return 0, &ErrInvalidRequest{Reason: fmt.Sprintf("unknown vehicle class %q", name)}
	}
	return code, nil
}

// wireViaPoint is one intermediate stop in the request body
type wireViaPoint struct {
	ViaPointID   string `json:"viaPointId"`
	ViaPointName string `json:"viaPointName"`
	ViaX         string `json:"viaX"`
	ViaY         string `json:"viaY"`
	ViaTime      string `json:"viaTime,omitempty"`
}

// wireRequest is the provider request body. Every numeric field goes over
// the wire as a string; names are URL-escaped.
type wireRequest struct {
	ReqCoordType string         `json:"reqCoordType"`
	ResCoordType string         `json:"resCoordType"`
	StartName    string         `json:"startName"`
	StartX       string         `json:"startX"`
	StartY       string         `json:"startY"`
	StartTime    string         `json:"startTime"`
	EndName      string         `json:"endName"`
	EndX         string         `json:"endX"`
	EndY         string         `json:"endY"`
	SearchOption string         `json:"searchOption"`
	CarType      string         `json:"carType"`
	TotalValue   string         `json:"totalValue"`
	ViaPoints    []wireViaPoint `json:"viaPoints"`
}

func buildWireRequest(req *RouteRequest) *wireRequest {
	wire := &wireRequest{
		ReqCoordType: "WGS84GEO",
		ResCoordType: "WGS84GEO",
		StartName:    url.QueryEscape(req.Start.Name),
		StartX:       models.FormatCoord(req.Start.Lon),
		StartY:       models.FormatCoord(req.Start.Lat),
		StartTime:    req.DepartAt.Format(startTimeLayout),
		EndName:      url.QueryEscape(req.End.Name),
		EndX:         models.FormatCoord(req.End.Lon),
		EndY:         models.FormatCoord(req.End.Lat),
		SearchOption: strconv.Itoa(req.SearchOption),
		CarType:      strconv.Itoa(req.CarType),
		TotalValue:   strconv.Itoa(req.ViaDwellSecs),
		ViaPoints:    make([]wireViaPoint, 0, len(req.Vias)),
	}

	for _, via := range req.Vias {
		wp := wireViaPoint{
			ViaPointID:   via.ID,
			ViaPointName: url.QueryEscape(via.Name),
			ViaX:         models.FormatCoord(via.Lon),
			ViaY:         models.FormatCoord(via.Lat),
		}
		if via.DwellSecs > 0 {
			// per-via dwell overrides the request-wide totalValue
			wp.ViaTime = strconv.Itoa(via.DwellSecs)
		}
		wire.ViaPoints = append(wire.ViaPoints, wp)
	}

	return wire
}

// FlexFloat decodes a JSON value the provider serializes inconsistently:
// sometimes a number, sometimes a quoted string, sometimes null
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("failed to parse numeric string %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// RouteResponse is the provider's FeatureCollection reply
type RouteResponse struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one geometry piece of the response: a LineString road segment
// or a Point marker for start/end/via
type Feature struct {
	Type       string            `json:"type"`
	Geometry   FeatureGeometry   `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// FeatureGeometry keeps coordinates raw so Point and LineString features
// can share the type
type FeatureGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Point decodes the coordinates of a Point feature as [lon, lat]
func (g *FeatureGeometry) Point() ([]float64, error) {
	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to decode point coordinates: %w", err)
	}
	if len(coords) < 2 {
		return nil, fmt.Errorf("point has %d coordinates, expected 2", len(coords))
	}
	return coords, nil
}

// LineString decodes the coordinates of a LineString feature as
// [lon, lat] vertex pairs
func (g *FeatureGeometry) LineString() ([][]float64, error) {
	var coords [][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to decode linestring coordinates: %w", err)
	}
	for i, v := range coords {
		if len(v) < 2 {
			return nil, fmt.Errorf("linestring vertex %d has %d coordinates, expected 2", i, len(v))
		}
	}
	return coords, nil
}

// FeatureProperties carries the per-feature timing annotations. Via and end
// Point features hold cumulative totals; LineString features hold the
// segment's own time and distance.
type FeatureProperties struct {
	Index         FlexFloat `json:"index"`
	PointType     string    `json:"pointType"`
	ViaPointID    string    `json:"viaPointId"`
	Time          FlexFloat `json:"time"`
	Distance      FlexFloat `json:"distance"`
	TotalTime     FlexFloat `json:"totalTime"`
	TotalDistance FlexFloat `json:"totalDistance"`
}

// IsPoint reports whether the feature is a Point marker
func (f *Feature) IsPoint() bool {
	return f.Geometry.Type == "Point"
}

// IsLineString reports whether the feature is a road segment
func (f *Feature) IsLineString() bool {
	return f.Geometry.Type == "LineString"
}
