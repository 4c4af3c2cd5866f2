package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/geo"
	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

// DefaultGeoPackageName is the GeoPackage output file name.
const DefaultGeoPackageName = "coverage.gpkg"

// UnclassifiedLayer holds footprints without a scale level: invalid ones,
// and ones that could only be written in their native CRS elsewhere.
const UnclassifiedLayer = "unclassified"

// GeoPackageWriter writes the coverage as a GeoPackage in EPSG:4326, with a
// layer per scale level (or a single timestamped layer) plus one layer per
// aggregate. Footprints that cannot be transformed to EPSG:4326 are left
// out and logged.
type GeoPackageWriter struct {
	out          *AtomicWriter
	filename     string
	transformers indexer.Transformers
	scaleLevels  bool
	logger       *zap.SugaredLogger
}

// NewGeoPackageWriter creates a writer of dir/filename.
func NewGeoPackageWriter(dir, filename string, t indexer.Transformers, scaleLevels bool, logger *zap.SugaredLogger) (*GeoPackageWriter, error) {
	out, err := NewAtomicWriter(dir)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = DefaultGeoPackageName
	}
	return &GeoPackageWriter{
		out:          out,
		filename:     filename,
		transformers: t,
		scaleLevels:  scaleLevels,
		logger:       logging.OrNop(logger),
	}, nil
}

type gpkgRow struct {
	geom  orb.Geometry
	props geojson.Properties
}

// Write builds the GeoPackage in a temp file and moves it into place.
func (w *GeoPackageWriter) Write(ctx context.Context, res *indexer.Result) ([]string, error) {
	layers, skipped := w.group(res)
	if skipped > 0 {
		w.logger.Warnw("Footprints left out of GeoPackage", logging.FieldCount, skipped)
	}

	tempPath := w.out.TempPath(w.filename)
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to clear temp GeoPackage")
	}

	if err := w.build(ctx, tempPath, layers, res.Coverage); err != nil {
		os.Remove(tempPath)
		return nil, err
	}
	if err := w.out.Commit(w.filename); err != nil {
		return nil, err
	}

	path := w.out.Path(w.filename)
	w.logger.Infow("GeoPackage written", logging.FieldPath, path, "layers", len(layers))
	return []string{path}, nil
}

// group reprojects features and assigns them to layers.
func (w *GeoPackageWriter) group(res *indexer.Result) (map[string][]gpkgRow, int) {
	single := "coverages_" + res.Snapshot.Started.UTC().Format("20060102T150405")
	layers := make(map[string][]gpkgRow)
	skipped := 0
	for _, f := range res.Coverage.Features.Features {
		g, err := featureToWGS84(w.transformers, f)
		if err != nil {
			w.logger.Debugw("Footprint not written to GeoPackage", "uid", f.Properties[indexer.PropUID], logging.FieldError, err)
			skipped++
			continue
		}
		name := single
		if w.scaleLevels {
			name = f.Properties.MustString(indexer.PropScaleLevel, UnclassifiedLayer)
		}
		layers[name] = append(layers[name], gpkgRow{geom: g, props: f.Properties})
	}
	return layers, skipped
}

func (w *GeoPackageWriter) build(ctx context.Context, path string, layers map[string][]gpkgRow, cov *indexer.CoverageResult) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return errors.Wrap(err, "failed to create GeoPackage")
	}
	defer db.Close()

	for _, pragma := range []string{"PRAGMA application_id = 1196444487", "PRAGMA user_version = 10300"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrap(err, "failed to set GeoPackage header")
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // Safe to call even after commit

	for _, ddl := range gpkgSchema {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return errors.Wrap(err, "failed to create GeoPackage tables")
		}
	}

	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := w.writeFootprints(ctx, tx, name, layers[name]); err != nil {
			return err
		}
	}

	for _, kind := range indexer.AllDerivations {
		a, ok := cov.Get(kind)
		if !ok {
			continue
		}
		if err := w.writeAggregate(ctx, tx, aggregateNames[kind].layer, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit GeoPackage")
	}
	return nil
}

var footprintColumns = []string{
	indexer.PropUID, indexer.PropDataType, indexer.PropFamily, indexer.PropFileName,
	indexer.PropPath, indexer.PropLayer, indexer.PropNativeCRS, indexer.PropCRS,
	indexer.PropValid, indexer.PropLastMod, indexer.PropScaleLevel,
}

func (w *GeoPackageWriter) writeFootprints(ctx context.Context, tx *sql.Tx, name string, rows []gpkgRow) error {
	ddl := `CREATE TABLE ` + quoteIdent(name) + ` (
    fid INTEGER PRIMARY KEY AUTOINCREMENT,
    geom GEOMETRY,
    uid TEXT, dataType TEXT, family TEXT, fname TEXT, path TEXT, layer TEXT,
    native_crs TEXT, crs TEXT, valid BOOLEAN, lastmod DATETIME, scale_level TEXT
)`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "failed to create layer %s", name)
	}

	var bound *orb.Bound
	for _, r := range rows {
		blob, err := gpkgBlob(r.geom, 4326)
		if err != nil {
			return errors.Wrapf(err, "failed to encode footprint %v", r.props[indexer.PropUID])
		}

		values := []any{blob}
		for _, col := range footprintColumns {
			v := r.props[col]
			if col == indexer.PropCRS {
				v = "EPSG:4326"
			}
			values = append(values, v)
		}
		_, err = sq.Insert(quoteIdent(name)).
			Columns(append([]string{"geom"}, footprintColumns...)...).
			Values(values...).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to insert into %s", name)
		}
		bound = extend(bound, r.geom)
	}

	return registerLayer(ctx, tx, name, "Footprints", bound)
}

func (w *GeoPackageWriter) writeAggregate(ctx context.Context, tx *sql.Tx, name string, a indexer.Aggregate) error {
	g, err := toWGS84(w.transformers, a.Geometry, a.CRS)
	if err != nil {
		w.logger.Warnw("Aggregate not written to GeoPackage", "kind", a.Kind, logging.FieldError, err)
		return nil
	}

	ddl := `CREATE TABLE ` + quoteIdent(name) + ` (
    fid INTEGER PRIMARY KEY AUTOINCREMENT,
    geom GEOMETRY,
    kind TEXT, sources INTEGER, source_crs TEXT
)`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "failed to create layer %s", name)
	}

	blob, err := gpkgBlob(g, 4326)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", a.Kind)
	}
	_, err = sq.Insert(quoteIdent(name)).
		Columns("geom", "kind", "sources", "source_crs").
		Values(blob, string(a.Kind), a.Sources, a.CRS.ID()).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to insert into %s", name)
	}

	return registerLayer(ctx, tx, name, "Aggregate: "+string(a.Kind), extend(nil, g))
}

func registerLayer(ctx context.Context, tx *sql.Tx, name, description string, bound *orb.Bound) error {
	insert := sq.Insert("gpkg_contents").
		Columns("table_name", "data_type", "identifier", "description", "last_change", "min_x", "min_y", "max_x", "max_y", "srs_id")
	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	if bound != nil {
		insert = insert.Values(name, "features", name, description, now, bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y(), 4326)
	} else {
		insert = insert.Values(name, "features", name, description, now, nil, nil, nil, nil, 4326)
	}
	if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
		return errors.Wrapf(err, "failed to register %s in gpkg_contents", name)
	}

	_, err := sq.Insert("gpkg_geometry_columns").
		Columns("table_name", "column_name", "geometry_type_name", "srs_id", "z", "m").
		Values(name, "geom", "GEOMETRY", 4326, 0, 0).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to register %s in gpkg_geometry_columns", name)
	}
	return nil
}

func extend(b *orb.Bound, g orb.Geometry) *orb.Bound {
	if len(geo.Points(g)) == 0 {
		return b
	}
	gb := g.Bound()
	if b == nil {
		return &gb
	}
	u := b.Union(gb)
	return &u
}

// gpkgBlob encodes a GeoPackage geometry blob: little-endian header with
// an XY envelope, followed by WKB. Empty geometries set the empty flag and
// carry no envelope.
func gpkgBlob(g orb.Geometry, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write([]byte{'G', 'P', 0})
	empty := len(geo.Points(g)) == 0
	if empty {
		buf.WriteByte(0x01 | 0x10)
	} else {
		buf.WriteByte(0x01 | 0x02)
	}
	binary.Write(&buf, binary.LittleEndian, srsID)
	if !empty {
		b := g.Bound()
		for _, v := range []float64{b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y()} {
			binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
		}
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var gpkgSchema = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
    srs_name TEXT NOT NULL,
    srs_id INTEGER PRIMARY KEY,
    organization TEXT NOT NULL,
    organization_coordsys_id INTEGER NOT NULL,
    definition TEXT NOT NULL,
    description TEXT
)`,
	`INSERT INTO gpkg_spatial_ref_sys VALUES
    ('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
    ('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system'),
    ('WGS 84 geodetic', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]', 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid')`,
	`CREATE TABLE gpkg_contents (
    table_name TEXT NOT NULL PRIMARY KEY,
    data_type TEXT NOT NULL,
    identifier TEXT UNIQUE,
    description TEXT DEFAULT '',
    last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
    srs_id INTEGER,
    CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
)`,
	`CREATE TABLE gpkg_geometry_columns (
    table_name TEXT NOT NULL,
    column_name TEXT NOT NULL,
    geometry_type_name TEXT NOT NULL,
    srs_id INTEGER NOT NULL,
    z TINYINT NOT NULL,
    m TINYINT NOT NULL,
    CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
    CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
    CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
)`,
}
