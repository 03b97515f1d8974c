package layout

import (
	"fmt"
	"math"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minPolygonArea is the smallest footprint area (m²) treated as non-degenerate.
const minPolygonArea = 1e-9

// cleanRing drops consecutive duplicate vertices and an explicit closing
// vertex. It returns an error for non-finite coordinates.
func cleanRing(r orb.Ring) (orb.Ring, error) {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return nil, fmt.Errorf("non-finite vertex %v", p)
		}
		if len(out) > 0 && out[len(out)-1].Equal(p) {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0].Equal(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out, nil
}

// ringArea is the unsigned area of an implicitly closed ring.
func ringArea(r orb.Ring) float64 {
	closed := r
	if len(r) > 0 && !r.Closed() {
		closed = append(r[:len(r):len(r)], r[0])
	}
	return math.Abs(planar.Area(closed))
}

// ValidateFootprint checks that r describes a simple polygon: at least three
// distinct vertices, non-zero area and no two non-adjacent edges touching.
func ValidateFootprint(r orb.Ring) error {
	ring, err := cleanRing(r)
	if err != nil {
		return err
	}
	if len(ring) < 3 {
		return fmt.Errorf("footprint has %d distinct vertices", len(ring))
	}
	if a := ringArea(ring); a < minPolygonArea {
		return fmt.Errorf("footprint area %g is degenerate", a)
	}

	n := len(ring)
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := ring[j], ring[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return fmt.Errorf("footprint edges %d and %d intersect", i, j)
			}
		}
	}
	return nil
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// segmentsIntersect reports whether closed segments p1p2 and q1q2 share a point.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

func toPolyclip(r orb.Ring) polyclip.Polygon {
	c := make(polyclip.Contour, len(r))
	for i, p := range r {
		c[i] = polyclip.Point{X: p[0], Y: p[1]}
	}
	return polyclip.Polygon{c}
}

// intersectionArea computes the overlap area of two simple polygons. The
// clipper can panic on numerically degenerate input; that is reported as an
// error.
func intersectionArea(a, b orb.Ring) (area float64, err error) {
	if ringsEqual(a, b) {
		return ringArea(a), nil
	}

	defer func() {
		if r := recover(); r != nil {
			area, err = 0, fmt.Errorf("polygon clipping failed: %v", r)
		}
	}()

	inter := toPolyclip(a).Construct(polyclip.INTERSECTION, toPolyclip(b))
	for _, c := range inter {
		ring := make(orb.Ring, len(c))
		for i, p := range c {
			ring[i] = orb.Point{p.X, p.Y}
		}
		area += ringArea(ring)
	}
	if math.IsNaN(area) || math.IsInf(area, 0) {
		return 0, fmt.Errorf("polygon clipping produced area %v", area)
	}
	return area, nil
}

func ringsEqual(a, b orb.Ring) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
