package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/indexer"
)

// Output format names.
const (
	FormatGeoJSON    = "geojson"
	FormatGeoPackage = "gpkg"
)

// Formats lists the supported output formats.
var Formats = []string{FormatGeoJSON, FormatGeoPackage}

// ErrUnknownFormat indicates an output format name that no writer handles.
var ErrUnknownFormat = errors.New("unknown output format")

// Writer persists the coverage of one run and returns the written paths.
type Writer interface {
	Write(ctx context.Context, res *indexer.Result) ([]string, error)
}

// WriterOptions configures NewWriters.
type WriterOptions struct {
	Dir          string
	Formats      []string
	Transformers indexer.Transformers
	ScaleLevels  bool
	FailureLog   bool
	Logger       *zap.SugaredLogger
}

// NewWriters builds one writer per requested format.
func NewWriters(opts WriterOptions) ([]Writer, error) {
	var writers []Writer
	for _, name := range opts.Formats {
		switch strings.ToLower(name) {
		case FormatGeoJSON:
			w, err := NewGeoJSONWriter(opts.Dir, opts.Transformers, opts.FailureLog, opts.Logger)
			if err != nil {
				return nil, err
			}
			writers = append(writers, w)
		case FormatGeoPackage:
			w, err := NewGeoPackageWriter(opts.Dir, DefaultGeoPackageName, opts.Transformers, opts.ScaleLevels, opts.Logger)
			if err != nil {
				return nil, err
			}
			writers = append(writers, w)
		default:
			return nil, errors.Wrapf(ErrUnknownFormat, "%q", name)
		}
	}
	return writers, nil
}

// aggregateNames maps each derivation to its GeoJSON file and GeoPackage layer.
var aggregateNames = map[indexer.Derivation]struct{ file, layer string }{
	indexer.DerivationUnion:         {"union.geojson", "coverage_union"},
	indexer.DerivationCentroids:     {"centroids.geojson", "coverage_centroids"},
	indexer.DerivationUnionCentroid: {"union_centroid.geojson", "coverage_union_centroid"},
}

func toWGS84(t indexer.Transformers, g orb.Geometry, from crs.CRS) (orb.Geometry, error) {
	tr, err := t.Transformer(from, crs.WGS84)
	if err != nil {
		return nil, err
	}
	return crs.Reproject(g, tr)
}

// featureCRS reads the CRS a feature's geometry is expressed in.
func featureCRS(f *geojson.Feature) (crs.CRS, error) {
	return crs.Parse(f.Properties.MustString(indexer.PropCRS, ""))
}

// featureToWGS84 reprojects a feature's geometry to EPSG:4326.
func featureToWGS84(t indexer.Transformers, f *geojson.Feature) (orb.Geometry, error) {
	c, err := featureCRS(f)
	if err != nil {
		return nil, errors.Wrapf(err, "feature %s", f.Properties.MustString(indexer.PropUID, ""))
	}
	return toWGS84(t, f.Geometry, c)
}

func failureLine(e indexer.FailureEntry) string {
	return fmt.Sprintf("%s\t%s\t%s\t%s\n", e.Time.UTC().Format("2006-01-02T15:04:05Z07:00"), e.Kind, e.ID(), e.Detail)
}
