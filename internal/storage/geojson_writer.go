package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

// GeoJSON output file names.
const (
	CoverageFile = "coverage.geojson"
	ReportFile   = "report.json"
	FailureFile  = "failures.log"
)

// GeoJSONWriter writes the per-asset coverage, one file per aggregate, the
// run report and optionally a plain-text failure log. Geometry is written
// in EPSG:4326; a footprint whose CRS cannot be transformed keeps its
// native coordinates and its "crs" property says so.
type GeoJSONWriter struct {
	out          *AtomicWriter
	transformers indexer.Transformers
	failureLog   bool
	logger       *zap.SugaredLogger
}

// NewGeoJSONWriter creates a writer into dir.
func NewGeoJSONWriter(dir string, t indexer.Transformers, failureLog bool, logger *zap.SugaredLogger) (*GeoJSONWriter, error) {
	out, err := NewAtomicWriter(dir)
	if err != nil {
		return nil, err
	}
	return &GeoJSONWriter{out: out, transformers: t, failureLog: failureLog, logger: logging.OrNop(logger)}, nil
}

// Write writes every output file of res.
func (w *GeoJSONWriter) Write(ctx context.Context, res *indexer.Result) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var written []string
	write := func(name string, data []byte) error {
		if err := w.out.WriteFile(name, data); err != nil {
			return err
		}
		written = append(written, w.out.Path(name))
		return nil
	}

	data, err := json.Marshal(w.coverage(res.Coverage.Features))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal coverage")
	}
	if err := write(CoverageFile, data); err != nil {
		return nil, err
	}

	for _, kind := range indexer.AllDerivations {
		name := aggregateNames[kind].file
		a, ok := res.Coverage.Get(kind)
		if !ok {
			// A previous run may have left one behind.
			if err := w.out.Remove(name); err != nil {
				return written, err
			}
			continue
		}
		data, err := json.Marshal(w.aggregate(a))
		if err != nil {
			return written, errors.Wrapf(err, "failed to marshal %s", kind)
		}
		if err := write(name, data); err != nil {
			return written, err
		}
	}

	data, err = json.MarshalIndent(res.Snapshot, "", "  ")
	if err != nil {
		return written, errors.Wrap(err, "failed to marshal report")
	}
	if err := write(ReportFile, data); err != nil {
		return written, err
	}

	if w.failureLog {
		var b strings.Builder
		for _, e := range res.Snapshot.Entries {
			b.WriteString(failureLine(e))
		}
		if err := write(FailureFile, []byte(b.String())); err != nil {
			return written, err
		}
	}

	w.logger.Infow("GeoJSON output written", logging.FieldCount, len(written), logging.FieldPath, w.out.outputDir)
	return written, nil
}

func (w *GeoJSONWriter) coverage(in *geojson.FeatureCollection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range in.Features {
		props := f.Properties.Clone()
		g, err := featureToWGS84(w.transformers, f)
		if err != nil {
			w.logger.Debugw("Writing footprint in native CRS", "uid", props[indexer.PropUID], logging.FieldError, err)
			g = orb.Clone(f.Geometry)
		} else {
			props[indexer.PropCRS] = crs.WGS84.ID()
		}
		nf := geojson.NewFeature(g)
		nf.Properties = props
		fc.Append(nf)
	}
	return fc
}

func (w *GeoJSONWriter) aggregate(a indexer.Aggregate) *geojson.FeatureCollection {
	g, err := toWGS84(w.transformers, a.Geometry, a.CRS)
	out := crs.WGS84
	if err != nil {
		w.logger.Warnw("Writing aggregate in its own CRS", "kind", a.Kind, logging.FieldError, err)
		g, out = orb.Clone(a.Geometry), a.CRS
	}

	f := geojson.NewFeature(g)
	f.Properties["kind"] = string(a.Kind)
	f.Properties["sources"] = a.Sources
	f.Properties[indexer.PropCRS] = out.ID()
	f.Properties["source_crs"] = a.CRS.ID()

	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	return fc
}
