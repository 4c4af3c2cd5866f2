package formats

import (
	"context"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/geo"
)

// ShapefileReader computes the extent of an Esri shapefile and reads its
// spatial reference from the .prj sidecar.
type ShapefileReader struct{}

// NewShapefileReader creates a shapefile reader.
func NewShapefileReader() *ShapefileReader {
	return &ShapefileReader{}
}

// ReadVector scans every record of path.
func (r *ShapefileReader) ReadVector(ctx context.Context, path string, opts VectorOptions) (*VectorInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer reader.Close()

	if t := reader.GeometryType; t < shp.NULL || t > shp.MULTIPATCH {
		return nil, unreadable(nil, "bad shape type %d", t)
	}

	info := &VectorInfo{DataType: "Esri Shapefile"}
	var bound orb.Bound
	var points []orb.Point
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, shape := reader.Shape()
		if _, null := shape.(*shp.Null); null || shape == nil {
			continue
		}

		b := shape.BBox()
		sb := orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
		if info.Features == 0 {
			bound = sb
		} else {
			bound = bound.Union(sb)
		}
		info.Features++

		if opts.ConvexHull {
			points = append(points, shapePoints(shape)...)
		}
	}
	if err := reader.Err(); err != nil {
		return nil, unreadable(err, "read records")
	}

	c, err := readPrj(path)
	if err != nil {
		return nil, err
	}
	if c.IsZero() {
		return nil, noCRS("shapefile has no .prj sidecar")
	}
	info.CRS = c

	if info.Features > 0 {
		info.Bound = bound
		if opts.ConvexHull {
			info.Hull = geo.ConvexHull(points)
		}
	}
	return info, nil
}

func shapePoints(s shp.Shape) []orb.Point {
	var raw []shp.Point
	switch v := s.(type) {
	case *shp.Point:
		raw = []shp.Point{*v}
	case *shp.PointZ:
		raw = []shp.Point{{X: v.X, Y: v.Y}}
	case *shp.PointM:
		raw = []shp.Point{{X: v.X, Y: v.Y}}
	case *shp.PolyLine:
		raw = v.Points
	case *shp.Polygon:
		raw = v.Points
	case *shp.MultiPoint:
		raw = v.Points
	case *shp.PolyLineZ:
		raw = v.Points
	case *shp.PolygonZ:
		raw = v.Points
	case *shp.MultiPointZ:
		raw = v.Points
	case *shp.PolyLineM:
		raw = v.Points
	case *shp.PolygonM:
		raw = v.Points
	case *shp.MultiPointM:
		raw = v.Points
	default:
		b := s.BBox()
		raw = []shp.Point{{X: b.MinX, Y: b.MinY}, {X: b.MaxX, Y: b.MaxY}}
	}

	out := make([]orb.Point, len(raw))
	for i, p := range raw {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}
