package raster

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Intersects reports whether poly and rect share at least one point.
// Both must be expressed in the same CRS. Contact along an edge or at a
// single corner counts as an intersection.
func Intersects(poly orb.MultiPolygon, rect orb.Bound) bool {
	if len(poly) == 0 || !poly.Bound().Intersects(rect) {
		return false
	}

	for _, p := range poly {
		for _, ring := range p {
			for _, pt := range ring {
				if rect.Contains(pt) {
					return true
				}
			}
		}
	}

	corners := []orb.Point{
		rect.Min,
		{rect.Max[0], rect.Min[1]},
		rect.Max,
		{rect.Min[0], rect.Max[1]},
	}
	for _, c := range corners {
		if planar.MultiPolygonContains(poly, c) {
			return true
		}
	}

	for _, p := range poly {
		for _, ring := range p {
			for i := 0; i+1 < len(ring); i++ {
				for j := range corners {
					if segmentsIntersect(ring[i], ring[i+1], corners[j], corners[(j+1)%len(corners)]) {
						return true
					}
				}
			}
		}
	}
	return false
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}

// segmentsIntersect is inclusive: touching end points and collinear
// overlaps are intersections.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)

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
