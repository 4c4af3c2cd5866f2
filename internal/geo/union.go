package geo

import (
	"math"

	polyclip "github.com/akavel/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Union dissolves polygons into their combined geometric union. Identical
// input slices always produce identical output.
func Union(polys []orb.Polygon) orb.MultiPolygon {
	clips := make([]polyclip.Polygon, 0, len(polys))
	for _, p := range polys {
		if c := toClip(p); len(c) > 0 {
			clips = append(clips, c)
		}
	}
	if len(clips) == 0 {
		return orb.MultiPolygon{}
	}
	return fromClip(reduceUnion(clips))
}

// reduceUnion merges pairwise so each polygon takes part in O(log n) unions.
func reduceUnion(clips []polyclip.Polygon) polyclip.Polygon {
	for len(clips) > 1 {
		next := make([]polyclip.Polygon, 0, (len(clips)+1)/2)
		for i := 0; i < len(clips); i += 2 {
			if i+1 == len(clips) {
				next = append(next, clips[i])
				continue
			}
			next = append(next, clips[i].Construct(polyclip.UNION, clips[i+1]))
		}
		clips = next
	}
	return clips[0]
}

func toClip(p orb.Polygon) polyclip.Polygon {
	var out polyclip.Polygon
	for _, ring := range p {
		n := len(ring)
		if n > 1 && ring[0] == ring[n-1] {
			n--
		}
		if n < 3 {
			continue
		}
		contour := make(polyclip.Contour, 0, n)
		for _, pt := range ring[:n] {
			contour = append(contour, polyclip.Point{X: pt[0], Y: pt[1]})
		}
		out = append(out, contour)
	}
	return out
}

// fromClip rebuilds orb polygons from polyclip contours. Contours nested at
// an even depth are outer rings; odd-depth contours are holes of their
// smallest enclosing outer ring.
func fromClip(p polyclip.Polygon) orb.MultiPolygon {
	rings := make([]orb.Ring, 0, len(p))
	for _, contour := range p {
		if len(contour) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(contour)+1)
		for _, pt := range contour {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		ring = append(ring, ring[0])
		if planar.Area(ring) == 0 {
			continue
		}
		rings = append(rings, ring)
	}

	depth := make([]int, len(rings))
	for i := range rings {
		for j := range rings {
			if i != j && planar.RingContains(rings[j], rings[i][0]) {
				depth[i]++
			}
		}
	}

	var out orb.MultiPolygon
	outerIndex := make(map[int]int)
	for i, ring := range rings {
		if depth[i]%2 != 0 {
			continue
		}
		if ring.Orientation() != orb.CCW {
			ring.Reverse()
		}
		outerIndex[i] = len(out)
		out = append(out, orb.Polygon{ring})
	}

	for i, ring := range rings {
		if depth[i]%2 == 0 {
			continue
		}
		parent, best := -1, math.Inf(1)
		for j := range rings {
			if depth[j] != depth[i]-1 || !planar.RingContains(rings[j], ring[0]) {
				continue
			}
			if a := math.Abs(planar.Area(rings[j])); a < best {
				parent, best = j, a
			}
		}
		idx, ok := outerIndex[parent]
		if !ok {
			continue
		}
		if ring.Orientation() != orb.CW {
			ring.Reverse()
		}
		out[idx] = append(out[idx], ring)
	}

	return out
}
