// Package geo holds the pure geometry used to classify a confirmed position
// into an area: ray-casting point-in-polygon plus distance-to-boundary checks.
package geo

import "math"

// Point is a 2D position in map coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an area outline. The ring is implicitly closed; the last vertex
// connects back to the first.
type Polygon []Point

// Segment is a boundary edge (walls, area borders).
type Segment struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// Contains reports whether p lies inside the polygon, using the even-odd
// ray-casting rule. Points exactly on an edge count as inside.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) < 3 {
		return false
	}

	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		a, b := poly[i], poly[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// DistanceTo returns the shortest distance from p to the segment.
func (s Segment) DistanceTo(p Point) float64 {
	dx := s.B.X - s.A.X
	dy := s.B.Y - s.A.Y

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-s.A.X, p.Y-s.A.Y)
	}

	t := ((p.X-s.A.X)*dx + (p.Y-s.A.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	return math.Hypot(p.X-(s.A.X+t*dx), p.Y-(s.A.Y+t*dy))
}

// NearBoundary reports whether p is within radius of any segment.
func NearBoundary(p Point, segments []Segment, radius float64) bool {
	for _, s := range segments {
		if s.DistanceTo(p) <= radius {
			return true
		}
	}
	return false
}

func onSegment(p, a, b Point) bool {
	const eps = 1e-9

	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > eps {
		return false
	}
	dot := (p.X-a.X)*(b.X-a.X) + (p.Y-a.Y)*(b.Y-a.Y)
	if dot < -eps {
		return false
	}
	lenSq := (b.X-a.X)*(b.X-a.X) + (b.Y-a.Y)*(b.Y-a.Y)
	return dot <= lenSq+eps
}
