package materialize

import (
	"fmt"
	"math"

	"fleet-route-planner/internal/tmap"
)

const (
	// alignEps is the coordinate tolerance (degrees) when matching a
	// waypoint to a geometry vertex
	alignEps = 1e-4

	// coincidentEps detects consecutive duplicate vertices
	coincidentEps = 1e-9
)

// vertexPath is the deduplicated route geometry with per-vertex cumulative
// time (seconds) and distance (meters). Cumulatives are non-decreasing;
// vertex 0 is always (0, 0).
type vertexPath struct {
	vertices [][]float64 // [lon, lat]
	cumTime  []float64
	cumDist  []float64
}

func coincident(a, b []float64) bool {
	return math.Abs(a[0]-b[0]) < coincidentEps && math.Abs(a[1]-b[1]) < coincidentEps
}

func planarLen(a, b []float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// buildVertexPath walks the provider's features in order. LineString
// features contribute vertices with their time/distance distributed across
// edges by planar edge length; via/end Point features carrying cumulative
// totals recalibrate the running cumulative, clamped monotone.
func buildVertexPath(resp *tmap.RouteResponse) (*vertexPath, error) {
	p := &vertexPath{}

	for i := range resp.Features {
		f := &resp.Features[i]
		switch {
		case f.IsLineString():
			verts, err := f.Geometry.LineString()
			if err != nil {
				return nil, fmt.Errorf("failed to read feature %d geometry: %w", i, err)
			}
			p.appendSegment(verts, float64(f.Properties.Time), float64(f.Properties.Distance))
		case f.IsPoint():
			// Via and end markers carry cumulative totals that include
			// via dwell, which edge distribution alone cannot see
			total := f.Properties
			if total.TotalTime > 0 || total.TotalDistance > 0 {
				p.calibrate(float64(total.TotalTime), float64(total.TotalDistance))
			}
		}
	}

	return p, nil
}

// appendSegment adds one LineString's vertices, spreading segTime/segDist
// across its edges weighted by planar edge length. Degenerate segments
// (zero total length) split uniformly. Consecutive coincident vertices are
// merged, including across the feature boundary.
func (p *vertexPath) appendSegment(verts [][]float64, segTime, segDist float64) {
	kept := make([][]float64, 0, len(verts))
	for _, v := range verts {
		if len(kept) > 0 && coincident(kept[len(kept)-1], v) {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return
	}

	weights := make([]float64, 0, len(kept)-1)
	totalLen := 0.0
	for i := 1; i < len(kept); i++ {
		l := planarLen(kept[i-1], kept[i])
		weights = append(weights, l)
		totalLen += l
	}
	if totalLen == 0 && len(weights) > 0 {
		for i := range weights {
			weights[i] = 1
		}
		totalLen = float64(len(weights))
	}

	start := 0
	if len(p.vertices) == 0 {
		p.vertices = append(p.vertices, kept[0])
		p.cumTime = append(p.cumTime, 0)
		p.cumDist = append(p.cumDist, 0)
		start = 1
	} else if coincident(p.vertices[len(p.vertices)-1], kept[0]) {
		start = 1
	}

	for i := start; i < len(kept); i++ {
		var dt, dd float64
		if i > 0 {
			share := weights[i-1] / totalLen
			dt = segTime * share
			dd = segDist * share
		}
		last := len(p.vertices) - 1
		p.vertices = append(p.vertices, kept[i])
		p.cumTime = append(p.cumTime, p.cumTime[last]+dt)
		p.cumDist = append(p.cumDist, p.cumDist[last]+dd)
	}
}

// calibrate raises the running cumulative at the current tail to the
// provider's reported totals. Never lowers it, keeping the path monotone.
func (p *vertexPath) calibrate(totalTime, totalDist float64) {
	if len(p.vertices) == 0 {
		return
	}
	last := len(p.vertices) - 1
	if totalTime > p.cumTime[last] {
		p.cumTime[last] = totalTime
	}
	if totalDist > p.cumDist[last] {
		p.cumDist[last] = totalDist
	}
}

func (p *vertexPath) len() int {
	return len(p.vertices)
}

// totals returns the cumulative time and distance at the path tail
func (p *vertexPath) totals() (float64, float64) {
	if len(p.vertices) == 0 {
		return 0, 0
	}
	last := len(p.vertices) - 1
	return p.cumTime[last], p.cumDist[last]
}

// align maps each waypoint coordinate to a vertex index with a monotone
// scan pointer: the first vertex within alignEps at or after the pointer
// wins; when nothing matches, the nearest vertex at or after the pointer is
// used. The pointer never moves backward, so waypoint cumulatives stay
// monotone even when the route revisits a coordinate.
func (p *vertexPath) align(lons, lats []float64) []int {
	indices := make([]int, len(lons))
	pointer := 0

	for w := range lons {
		matched := -1
		for i := pointer; i < len(p.vertices); i++ {
			if math.Abs(p.vertices[i][0]-lons[w]) <= alignEps && math.Abs(p.vertices[i][1]-lats[w]) <= alignEps {
				matched = i
				break
			}
		}
		if matched == -1 {
			// fall back to the nearest vertex at or after the pointer
			best := math.Inf(1)
			matched = pointer
			for i := pointer; i < len(p.vertices); i++ {
				d := planarLen(p.vertices[i], []float64{lons[w], lats[w]})
				if d < best {
					best = d
					matched = i
				}
			}
		}
		indices[w] = matched
		pointer = matched
	}

	return indices
}
