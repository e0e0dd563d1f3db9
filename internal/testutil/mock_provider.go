package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"fleet-route-planner/internal/tmap"
)

// Synthetic geometry constants: planar degrees scaled to meters, fixed speed
const (
	metersPerDegree = 100000.0
	speedMPS        = 10.0
)

// MockDirectionsProvider is an in-memory DirectionsProvider for tests. It
// synthesizes a FeatureCollection from the request coordinates, supports
// failure injection keyed by stop id, and tracks calls and peak concurrency.
type MockDirectionsProvider struct {
	mu            sync.Mutex
	calls         []*tmap.RouteRequest
	inFlight      int
	maxInFlight   int
	failIDs       map[string]error
	degenerateIDs map[string]bool
}

func NewMockDirectionsProvider() *MockDirectionsProvider {
	return &MockDirectionsProvider{
		failIDs:       make(map[string]error),
		degenerateIDs: make(map[string]bool),
	}
}

// FailForStop makes any request containing the stop id (start, via or end)
// return err
func (m *MockDirectionsProvider) FailForStop(stopID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failIDs[stopID] = err
}

// DegenerateForStop makes any request containing the stop id return a
// single-vertex geometry
func (m *MockDirectionsProvider) DegenerateForStop(stopID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degenerateIDs[stopID] = true
}

// CallCount returns the number of Route invocations so far
func (m *MockDirectionsProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded requests
func (m *MockDirectionsProvider) Calls() []*tmap.RouteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tmap.RouteRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// MaxConcurrent returns the peak number of simultaneous Route calls observed
func (m *MockDirectionsProvider) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Reset clears recorded calls and failure injections
func (m *MockDirectionsProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.inFlight = 0
	m.maxInFlight = 0
	m.failIDs = make(map[string]error)
	m.degenerateIDs = make(map[string]bool)
}

func (m *MockDirectionsProvider) enter(req *tmap.RouteRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
}

func (m *MockDirectionsProvider) leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

// Route synthesizes a provider response: Point markers for start, vias and
// end, a two-edge LineString between consecutive markers, and cumulative
// totals (including via dwell) on via and end markers.
func (m *MockDirectionsProvider) Route(ctx context.Context, req *tmap.RouteRequest) (*tmap.RouteResponse, error) {
	m.enter(req)
	defer m.leave()

	if err := ctx.Err(); err != nil {
		return nil, &tmap.ErrProviderUnavailable{Reason: err.Error()}
	}

	points := append([]tmap.Point{req.Start}, req.Vias...)
	points = append(points, req.End)

	m.mu.Lock()
	for _, p := range points {
		if err, ok := m.failIDs[p.ID]; ok {
			m.mu.Unlock()
			return nil, err
		}
		if m.degenerateIDs[p.ID] {
			m.mu.Unlock()
			return &tmap.RouteResponse{
				Type: "FeatureCollection",
				Features: []tmap.Feature{
					pointFeature(req.Start, "S", 0, 0),
				},
			}, nil
		}
	}
	m.mu.Unlock()

	resp := &tmap.RouteResponse{Type: "FeatureCollection"}
	resp.Features = append(resp.Features, pointFeature(points[0], "S", 0, 0))

	cumTime, cumDist := 0.0, 0.0
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		dx := (cur.Lon - prev.Lon) * metersPerDegree
		dy := (cur.Lat - prev.Lat) * metersPerDegree
		dist := math.Hypot(dx, dy)
		segTime := dist / speedMPS

		mid := tmap.Point{Lon: (prev.Lon + cur.Lon) / 2, Lat: (prev.Lat + cur.Lat) / 2}
		resp.Features = append(resp.Features, lineFeature([][]float64{
			{prev.Lon, prev.Lat},
			{mid.Lon, mid.Lat},
			{cur.Lon, cur.Lat},
		}, segTime, dist))

		cumTime += segTime
		cumDist += dist

		if i < len(points)-1 {
			resp.Features = append(resp.Features, pointFeature(cur, fmt.Sprintf("B%d", i), cumTime, cumDist))
			dwell := req.ViaDwellSecs
			if cur.DwellSecs > 0 {
				dwell = cur.DwellSecs
			}
			cumTime += float64(dwell)
		} else {
			resp.Features = append(resp.Features, pointFeature(cur, "E", cumTime, cumDist))
		}
	}

	return resp, nil
}

func pointFeature(p tmap.Point, pointType string, totalTime, totalDist float64) tmap.Feature {
	coords, _ := json.Marshal([]float64{p.Lon, p.Lat})
	return tmap.Feature{
		Type:     "Feature",
		Geometry: tmap.FeatureGeometry{Type: "Point", Coordinates: coords},
		Properties: tmap.FeatureProperties{
			PointType:     pointType,
			ViaPointID:    p.ID,
			TotalTime:     tmap.FlexFloat(totalTime),
			TotalDistance: tmap.FlexFloat(totalDist),
		},
	}
}

func lineFeature(vertices [][]float64, segTime, segDist float64) tmap.Feature {
	coords, _ := json.Marshal(vertices)
	return tmap.Feature{
		Type:     "Feature",
		Geometry: tmap.FeatureGeometry{Type: "LineString", Coordinates: coords},
		Properties: tmap.FeatureProperties{
			Time:     tmap.FlexFloat(segTime),
			Distance: tmap.FlexFloat(segDist),
		},
	}
}
