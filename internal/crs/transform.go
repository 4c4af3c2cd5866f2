package crs

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/maypok86/otter"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// ErrUnsupported indicates a CRS the registry cannot reproject.
var ErrUnsupported = errors.New("unsupported crs for reprojection")

// Transformer converts points from one CRS to another.
type Transformer interface {
	Transform(p orb.Point) (orb.Point, error)
}

// Registry builds transformers and caches them by CRS pair.
type Registry struct {
	cache otter.Cache[string, Transformer]
}

// NewRegistry creates a registry holding up to capacity cached transformers.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = 256
	}
	cache, err := otter.MustBuilder[string, Transformer](capacity).Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build transformer cache")
	}
	return &Registry{cache: cache}, nil
}

// Transformer returns a cached transformer from one CRS to another.
func (r *Registry) Transformer(from, to CRS) (Transformer, error) {
	key := from.ID() + "->" + to.ID()
	if t, ok := r.cache.Get(key); ok {
		return t, nil
	}

	if from.Equal(to) && !from.IsZero() {
		r.cache.Set(key, identity{})
		return identity{}, nil
	}

	src, err := systemFor(from)
	if err != nil {
		return nil, err
	}
	dst, err := systemFor(to)
	if err != nil {
		return nil, err
	}

	t := pivot{src: src, dst: dst}
	r.cache.Set(key, t)
	return t, nil
}

// Close releases the cache.
func (r *Registry) Close() {
	r.cache.Close()
}

// Reproject returns a transformed copy of g; g itself is never modified.
func Reproject(g orb.Geometry, t Transformer) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	var firstErr error
	out := project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		q, err := t.Transform(p)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return q
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

type identity struct{}

func (identity) Transform(p orb.Point) (orb.Point, error) { return p, nil }

type pivot struct {
	src, dst wgs84.CoordinateReferenceSystem
}

func (t pivot) Transform(p orb.Point) (orb.Point, error) {
	if _, ok := t.src.(wgs84.GeographicReferenceSystem); ok {
		if math.Abs(p.Lat()) > 90.0001 || math.Abs(p.Lon()) > 540 {
			return orb.Point{}, errors.Newf("coordinate %v outside geographic range", p)
		}
	}
	x, y, z := t.src.ToWGS84(p[0], p[1], 0)
	if dst, ok := t.dst.(wgs84.ProjectedReferenceSystem); ok {
		if bound, ok := dst.Projection.(latitudeBound); ok {
			if _, lat, _ := wgs84.LonLat().FromWGS84(x, y, z); !bound.covers(lat) {
				return orb.Point{}, errors.Newf("latitude %f outside projection coverage", lat)
			}
		}
	}
	east, north, _ := t.dst.FromWGS84(x, y, z)
	out := orb.Point{east, north}
	if !finite(out) {
		return orb.Point{}, errors.Newf("transform of %v produced non-finite coordinates", p)
	}
	return out, nil
}

func systemFor(c CRS) (wgs84.CoordinateReferenceSystem, error) {
	if c.HasCode() && c.Authority == "EPSG" {
		if sys := systems.Code(c.Code); sys != nil {
			return sys, nil
		}
	}
	return nil, errors.Wrapf(ErrUnsupported, "%s", c)
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
