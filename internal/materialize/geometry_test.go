package materialize

import (
	"encoding/json"
	"math"
	"testing"

	"fleet-route-planner/internal/tmap"
)

func lineFeature(t *testing.T, vertices [][]float64, segTime, segDist float64) tmap.Feature {
	t.Helper()
	coords, err := json.Marshal(vertices)
	if err != nil {
		t.Fatalf("marshal coordinates: %v", err)
	}
	return tmap.Feature{
		Type:     "Feature",
		Geometry: tmap.FeatureGeometry{Type: "LineString", Coordinates: coords},
		Properties: tmap.FeatureProperties{
			Time:     tmap.FlexFloat(segTime),
			Distance: tmap.FlexFloat(segDist),
		},
	}
}

func pointFeature(t *testing.T, lon, lat float64, pointType string, totalTime, totalDist float64) tmap.Feature {
	t.Helper()
	coords, err := json.Marshal([]float64{lon, lat})
	if err != nil {
		t.Fatalf("marshal coordinates: %v", err)
	}
	return tmap.Feature{
		Type:     "Feature",
		Geometry: tmap.FeatureGeometry{Type: "Point", Coordinates: coords},
		Properties: tmap.FeatureProperties{
			PointType:     pointType,
			TotalTime:     tmap.FlexFloat(totalTime),
			TotalDistance: tmap.FlexFloat(totalDist),
		},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSegmentDistributionByEdgeLength(t *testing.T) {
	resp := &tmap.RouteResponse{Features: []tmap.Feature{
		lineFeature(t, [][]float64{{0, 0}, {0.3, 0}, {1, 0}}, 100, 1000),
	}}

	path, err := buildVertexPath(resp)
	if err != nil {
		t.Fatalf("buildVertexPath: %v", err)
	}
	if path.len() != 3 {
		t.Fatalf("got %d vertices, want 3", path.len())
	}

	// Edge lengths 0.3 and 0.7 split the totals 30/70
	wantTime := []float64{0, 30, 100}
	wantDist := []float64{0, 300, 1000}
	for i := range wantTime {
		if !almostEqual(path.cumTime[i], wantTime[i]) {
			t.Errorf("cumTime[%d] = %v, want %v", i, path.cumTime[i], wantTime[i])
		}
		if !almostEqual(path.cumDist[i], wantDist[i]) {
			t.Errorf("cumDist[%d] = %v, want %v", i, path.cumDist[i], wantDist[i])
		}
	}
}

func TestCoincidentVerticesMerged(t *testing.T) {
	resp := &tmap.RouteResponse{Features: []tmap.Feature{
		lineFeature(t, [][]float64{{0, 0}, {0, 0}, {0.5, 0}}, 50, 500),
		// next feature starts where the previous ended
		lineFeature(t, [][]float64{{0.5, 0}, {1, 0}}, 50, 500),
	}}

	path, err := buildVertexPath(resp)
	if err != nil {
		t.Fatalf("buildVertexPath: %v", err)
	}
	if path.len() != 3 {
		t.Fatalf("got %d vertices, want 3", path.len())
	}
	if !almostEqual(path.cumTime[2], 100) || !almostEqual(path.cumDist[2], 1000) {
		t.Errorf("tail cumulatives = (%v, %v), want (100, 1000)", path.cumTime[2], path.cumDist[2])
	}
}

func TestPointTotalsCalibrateMonotone(t *testing.T) {
	resp := &tmap.RouteResponse{Features: []tmap.Feature{
		lineFeature(t, [][]float64{{0, 0}, {0.5, 0}}, 100, 1000),
		// via marker includes 60s dwell beyond the walked time
		pointFeature(t, 0.5, 0, "B1", 160, 1000),
		lineFeature(t, [][]float64{{0.5, 0}, {1, 0}}, 100, 1000),
	}}

	path, err := buildVertexPath(resp)
	if err != nil {
		t.Fatalf("buildVertexPath: %v", err)
	}

	if !almostEqual(path.cumTime[1], 160) {
		t.Errorf("via cumTime = %v, want 160", path.cumTime[1])
	}
	if !almostEqual(path.cumTime[2], 260) {
		t.Errorf("tail cumTime = %v, want 260", path.cumTime[2])
	}

	// a marker reporting less than the walked value never lowers it
	resp2 := &tmap.RouteResponse{Features: []tmap.Feature{
		lineFeature(t, [][]float64{{0, 0}, {0.5, 0}}, 100, 1000),
		pointFeature(t, 0.5, 0, "B1", 40, 500),
	}}
	path2, err := buildVertexPath(resp2)
	if err != nil {
		t.Fatalf("buildVertexPath: %v", err)
	}
	if !almostEqual(path2.cumTime[1], 100) || !almostEqual(path2.cumDist[1], 1000) {
		t.Errorf("calibrate lowered cumulatives: (%v, %v)", path2.cumTime[1], path2.cumDist[1])
	}
}

func TestAlignment(t *testing.T) {
	path := &vertexPath{
		vertices: [][]float64{{0, 0}, {0.1, 0}, {0.2, 0}, {0.3, 0}, {0.2, 0}},
		cumTime:  []float64{0, 10, 20, 30, 40},
		cumDist:  []float64{0, 100, 200, 300, 400},
	}

	tests := []struct {
		name string
		lons []float64
		lats []float64
		want []int
	}{
		{
			name: "exact matches in order",
			lons: []float64{0, 0.2, 0.3},
			lats: []float64{0, 0, 0},
			want: []int{0, 2, 3},
		},
		{
			name: "within epsilon",
			lons: []float64{0.00005, 0.19995},
			lats: []float64{0.00005, 0},
			want: []int{0, 2},
		},
		{
			name: "no match falls back to nearest at or after pointer",
			lons: []float64{0, 0.17},
			lats: []float64{0, 0.05},
			want: []int{0, 2},
		},
		{
			name: "pointer never moves backward on revisited coordinate",
			lons: []float64{0.2, 0.3, 0.2},
			lats: []float64{0, 0, 0},
			want: []int{2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := path.align(tt.lons, tt.lats)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("align()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEmptyResponseYieldsNoVertices(t *testing.T) {
	path, err := buildVertexPath(&tmap.RouteResponse{})
	if err != nil {
		t.Fatalf("buildVertexPath: %v", err)
	}
	if path.len() != 0 {
		t.Errorf("got %d vertices, want 0", path.len())
	}
}
