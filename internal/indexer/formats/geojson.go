package formats

import (
	"context"
	"encoding/json"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/geo"
)

// GeoJSONReader computes the extent of a GeoJSON document.
type GeoJSONReader struct{}

// NewGeoJSONReader creates a GeoJSON reader.
func NewGeoJSONReader() *GeoJSONReader {
	return &GeoJSONReader{}
}

type geojsonProbe struct {
	Type string `json:"type"`
	CRS  *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// ReadVector reads a FeatureCollection, a Feature or a bare geometry.
// Documents without the legacy crs member are in EPSG:4326 (RFC 7946).
func (r *GeoJSONReader) ReadVector(ctx context.Context, path string, opts VectorOptions) (*VectorInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, unreadable(err, "read %s", path)
	}

	var probe geojsonProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, unreadable(err, "parse JSON")
	}

	var geoms []orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, unreadable(err, "parse feature collection")
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, unreadable(err, "parse feature")
		}
		geoms = append(geoms, f.Geometry)
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, unreadable(err, "parse geometry")
		}
		geoms = append(geoms, g.Geometry())
	default:
		return nil, unsupported("JSON document is not GeoJSON (type %q)", probe.Type)
	}

	info := &VectorInfo{CRS: crs.WGS84, DataType: "GeoJSON"}
	if probe.CRS != nil && probe.CRS.Properties.Name != "" {
		c, err := crs.Parse(probe.CRS.Properties.Name)
		if err != nil {
			return nil, unreadable(err, "crs member")
		}
		info.CRS = c
	}

	var points []orb.Point
	for _, g := range geoms {
		pts := geo.Points(g)
		if len(pts) == 0 {
			continue
		}
		b := orb.MultiPoint(pts).Bound()
		if info.Features == 0 {
			info.Bound = b
		} else {
			info.Bound = info.Bound.Union(b)
		}
		info.Features++
		if opts.ConvexHull {
			points = append(points, pts...)
		}
	}
	if opts.ConvexHull && info.Features > 0 {
		info.Hull = geo.ConvexHull(points)
	}
	return info, nil
}
