// Package geo holds the planar geometry helpers used to build footprints and
// coverage: corner polygons, degeneracy checks, hulls, union and area levels.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// BoundPolygon returns the closed, counter-clockwise rectangle of b.
func BoundPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.Min.X(), b.Min.Y()},
		{b.Max.X(), b.Min.Y()},
		{b.Max.X(), b.Max.Y()},
		{b.Min.X(), b.Max.Y()},
		{b.Min.X(), b.Min.Y()},
	}}
}

// CornerPolygon closes the ring through four corners in the order given.
func CornerPolygon(corners [4]orb.Point) orb.Polygon {
	return orb.Polygon{orb.Ring{corners[0], corners[1], corners[2], corners[3], corners[0]}}
}

// Finite reports whether every coordinate of g is a finite number.
func Finite(g orb.Geometry) bool {
	ok := true
	eachPoint(g, func(p orb.Point) {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			ok = false
		}
	})
	return ok
}

// Degenerate reports whether g cannot stand as a footprint: nil, empty,
// non-finite, or a polygon with zero area.
func Degenerate(g orb.Geometry) bool {
	if g == nil || !Finite(g) {
		return true
	}
	switch v := g.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(v) == 0
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 4 {
			return true
		}
		return math.Abs(planar.Area(v)) == 0
	case orb.MultiPolygon:
		for _, p := range v {
			if !Degenerate(p) {
				return false
			}
		}
		return true
	default:
		return g.Dimensions() > 0 && g.Bound().IsEmpty()
	}
}

// IsPoint reports whether g is a discrete-location footprint.
func IsPoint(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return true
	}
	return false
}

// Centroid returns the planar centroid of g.
func Centroid(g orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(g)
	return c
}

// AreaKm2 returns the geodesic area of a WGS 84 geometry in square kilometres.
func AreaKm2(g orb.Geometry) float64 {
	return math.Abs(orbgeo.Area(g)) / 1_000_000
}

// ConvexHull returns the closed counter-clockwise hull of pts, or nil when
// fewer than three distinct, non-collinear points are given.
func ConvexHull(pts []orb.Point) orb.Ring {
	distinct := make(map[orb.Point]struct{}, len(pts))
	flat := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		if _, seen := distinct[p]; seen {
			continue
		}
		distinct[p] = struct{}{}
		flat = append(flat, p[0], p[1])
	}
	if len(distinct) < 3 {
		return nil
	}

	poly, ok := xy.ConvexHullFlat(geom.XY, flat).(*geom.Polygon)
	if !ok || poly.NumLinearRings() == 0 {
		return nil
	}
	coords := poly.LinearRing(0).FlatCoords()
	hull := make(orb.Ring, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		hull = append(hull, orb.Point{coords[i], coords[i+1]})
	}
	if len(hull) < 4 {
		return nil
	}
	if hull.Orientation() == orb.CW {
		hull.Reverse()
	}
	return hull
}

func eachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch v := g.(type) {
	case orb.Point:
		fn(v)
	case orb.MultiPoint:
		for _, p := range v {
			fn(p)
		}
	case orb.LineString:
		for _, p := range v {
			fn(p)
		}
	case orb.Ring:
		for _, p := range v {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			eachPoint(ls, fn)
		}
	case orb.Polygon:
		for _, r := range v {
			eachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			eachPoint(p, fn)
		}
	case orb.Collection:
		for _, c := range v {
			eachPoint(c, fn)
		}
	case orb.Bound:
		fn(v.Min)
		fn(v.Max)
	}
}

// Points flattens every vertex of g.
func Points(g orb.Geometry) []orb.Point {
	var pts []orb.Point
	eachPoint(g, func(p orb.Point) { pts = append(pts, p) })
	return pts
}
