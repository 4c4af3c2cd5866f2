package formats

import (
	"context"
	"database/sql"
	"encoding/binary"
	"iter"
	"math"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/geo"
)

type sqliteFlavor int

const (
	flavorGeoPackage sqliteFlavor = iota + 1
	flavorSpatiaLite
)

// GeoPackageReader lists and reads layers of GeoPackage and SpatiaLite
// databases. Feature extents come from geometry blob envelopes; tile layers
// from their tile matrix set.
type GeoPackageReader struct{}

// NewGeoPackageReader creates a GeoPackage / SpatiaLite reader.
func NewGeoPackageReader() *GeoPackageReader {
	return &GeoPackageReader{}
}

func openSQLite(ctx context.Context, path string) (*sql.DB, sqliteFlavor, error) {
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, 0, err
	}
	flavor, err := detectFlavor(ctx, db)
	if err != nil {
		db.Close()
		return nil, 0, err
	}
	return db, flavor, nil
}

func detectFlavor(ctx context.Context, db *sql.DB) (sqliteFlavor, error) {
	rows, err := sq.Select("name").
		From("sqlite_master").
		Where(sq.Eq{"type": []string{"table", "view"}, "name": []string{"gpkg_contents", "geometry_columns"}}).
		RunWith(db).
		QueryContext(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "read sqlite schema")
	}
	defer rows.Close()

	var gpkg, spatialite bool
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, err
		}
		gpkg = gpkg || name == "gpkg_contents"
		spatialite = spatialite || name == "geometry_columns"
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	switch {
	case gpkg:
		return flavorGeoPackage, nil
	case spatialite:
		return flavorSpatiaLite, nil
	}
	return 0, unsupported("database has no spatial tables")
}

// Open opens a container for layer listing.
func (r *GeoPackageReader) Open(ctx context.Context, path string) (Container, error) {
	db, flavor, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &sqliteContainer{db: db, flavor: flavor}, nil
}

type sqliteContainer struct {
	db     *sql.DB
	flavor sqliteFlavor
}

func (c *sqliteContainer) Close() error {
	return c.db.Close()
}

// Layers streams the layer listing. GeoPackage attribute tables carry no
// geometry and are not listed.
func (c *sqliteContainer) Layers(ctx context.Context) iter.Seq2[Layer, error] {
	return func(yield func(Layer, error) bool) {
		var query sq.SelectBuilder
		if c.flavor == flavorGeoPackage {
			query = sq.Select("table_name", "data_type").From("gpkg_contents").OrderBy("table_name")
		} else {
			query = sq.Select("f_table_name", "'features'").From("geometry_columns").OrderBy("f_table_name")
		}

		rows, err := query.RunWith(c.db).QueryContext(ctx)
		if err != nil {
			yield(Layer{}, errors.Wrap(err, "list layers"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var name, dataType string
			if err := rows.Scan(&name, &dataType); err != nil {
				yield(Layer{}, errors.Wrap(err, "scan layer"))
				return
			}

			layer := Layer{Name: name}
			switch strings.ToLower(dataType) {
			case "features":
				layer.Kind = LayerVector
			case "tiles", "2d-gridded-coverage":
				layer.Kind = LayerRaster
			case "attributes":
				continue
			default:
				layer.Kind = LayerVector
				layer.Err = unsupported("layer data_type %q", dataType)
			}
			if !yield(layer, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Layer{}, errors.Wrap(err, "list layers"))
		}
	}
}

// ReadVector computes the extent of one feature layer.
func (r *GeoPackageReader) ReadVector(ctx context.Context, path, layer string, opts VectorOptions) (*VectorInfo, error) {
	db, flavor, err := openSQLite(ctx, path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer db.Close()

	if flavor == flavorSpatiaLite {
		return readSpatiaLiteLayer(ctx, db, layer)
	}

	var column string
	var srsID int
	err = sq.Select("column_name", "srs_id").
		From("gpkg_geometry_columns").
		Where(sq.Eq{"table_name": layer}).
		RunWith(db).
		QueryRowContext(ctx).
		Scan(&column, &srsID)
	if errors.Is(err, sql.ErrNoRows) {
		var dataType string
		qerr := sq.Select("data_type").
			From("gpkg_contents").
			Where(sq.Eq{"table_name": layer}).
			RunWith(db).
			QueryRowContext(ctx).
			Scan(&dataType)
		if qerr == nil && dataType != "features" {
			return nil, unsupported("layer %s has data_type %q", layer, dataType)
		}
		return nil, unreadable(nil, "layer %s has no registered geometry column", layer)
	}
	if err != nil {
		return nil, unreadable(err, "geometry column of %s", layer)
	}

	c, err := gpkgSRS(ctx, db, srsID)
	if err != nil {
		return nil, err
	}

	info := &VectorInfo{CRS: c, DataType: "GeoPackage Layer"}
	rows, err := sq.Select(quoteIdent(column)).
		From(quoteIdent(layer)).
		Where(sq.NotEq{quoteIdent(column): nil}).
		RunWith(db).
		QueryContext(ctx)
	if err != nil {
		return nil, unreadable(err, "scan layer %s", layer)
	}
	defer rows.Close()

	var points []orb.Point
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, unreadable(err, "scan geometry")
		}
		b, pts, ok, err := gpkgBlobExtent(blob, opts.ConvexHull)
		if err != nil {
			return nil, unreadable(err, "feature %d of %s", info.Features+1, layer)
		}
		if !ok {
			continue
		}
		if info.Features == 0 {
			info.Bound = b
		} else {
			info.Bound = info.Bound.Union(b)
		}
		info.Features++
		points = append(points, pts...)
	}
	if err := rows.Err(); err != nil {
		return nil, unreadable(err, "scan layer %s", layer)
	}
	if opts.ConvexHull && info.Features > 0 {
		info.Hull = geo.ConvexHull(points)
	}
	return info, nil
}

// ReadRaster reads the extent of a tile or gridded coverage layer.
func (r *GeoPackageReader) ReadRaster(ctx context.Context, path, layer string) (*RasterInfo, error) {
	db, flavor, err := openSQLite(ctx, path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer db.Close()
	if flavor != flavorGeoPackage {
		return nil, unsupported("raster layers need a GeoPackage")
	}

	var srsID int
	var minX, minY, maxX, maxY float64
	err = sq.Select("srs_id", "min_x", "min_y", "max_x", "max_y").
		From("gpkg_tile_matrix_set").
		Where(sq.Eq{"table_name": layer}).
		RunWith(db).
		QueryRowContext(ctx).
		Scan(&srsID, &minX, &minY, &maxX, &maxY)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, unreadable(nil, "layer %s has no tile matrix set", layer)
	}
	if err != nil {
		return nil, unreadable(err, "tile matrix set of %s", layer)
	}

	c, err := gpkgSRS(ctx, db, srsID)
	if err != nil {
		return nil, err
	}
	info := &RasterInfo{CRS: c, DataType: "GeoPackage Tiles"}

	var matrixW, matrixH, tileW, tileH int
	err = sq.Select("matrix_width", "matrix_height", "tile_width", "tile_height").
		From("gpkg_tile_matrix").
		Where(sq.Eq{"table_name": layer}).
		OrderBy("zoom_level DESC").
		Limit(1).
		RunWith(db).
		QueryRowContext(ctx).
		Scan(&matrixW, &matrixH, &tileW, &tileH)
	switch {
	case err == nil && matrixW*tileW > 0 && matrixH*tileH > 0:
		info.Width, info.Height = matrixW*tileW, matrixH*tileH
		info.Transform = &GeoTransform{
			minX, (maxX - minX) / float64(info.Width), 0,
			maxY, 0, -(maxY - minY) / float64(info.Height),
		}
	case err == nil, errors.Is(err, sql.ErrNoRows):
		info.Width, info.Height = 1, 1
		info.Corners = []orb.Point{{minX, maxY}, {maxX, maxY}, {maxX, minY}, {minX, minY}}
	default:
		return nil, unreadable(err, "tile matrix of %s", layer)
	}
	return info, nil
}

// gpkgSRS resolves a GeoPackage srs_id. The reserved ids 0 and -1 mean an
// undefined geographic or cartesian system.
func gpkgSRS(ctx context.Context, db *sql.DB, srsID int) (crs.CRS, error) {
	if srsID == 0 || srsID == -1 {
		return crs.CRS{}, noCRS("layer uses undefined srs_id %d", srsID)
	}

	var name, org, definition sql.NullString
	var orgID sql.NullInt64
	err := sq.Select("srs_name", "organization", "organization_coordsys_id", "definition").
		From("gpkg_spatial_ref_sys").
		Where(sq.Eq{"srs_id": srsID}).
		RunWith(db).
		QueryRowContext(ctx).
		Scan(&name, &org, &orgID, &definition)
	if errors.Is(err, sql.ErrNoRows) {
		return crs.CRS{}, noCRS("srs_id %d is not defined", srsID)
	}
	if err != nil {
		return crs.CRS{}, unreadable(err, "spatial reference %d", srsID)
	}

	if strings.EqualFold(org.String, "EPSG") && orgID.Int64 > 0 {
		return crs.EPSG(int(orgID.Int64)), nil
	}
	if def := strings.TrimSpace(definition.String); def != "" && !strings.EqualFold(def, "undefined") {
		if c, err := crs.ParseWKT(def); err == nil {
			return c, nil
		}
	}
	if name.String != "" {
		return crs.CRS{Name: name.String}, nil
	}
	return crs.CRS{}, noCRS("srs_id %d has no usable definition", srsID)
}

// gpkgBlobExtent reads the bound of a GeoPackage geometry blob from its
// envelope, decoding the WKB body only when there is no envelope or when
// vertices are wanted. ok is false for empty geometries.
func gpkgBlobExtent(blob []byte, wantPoints bool) (b orb.Bound, pts []orb.Point, ok bool, err error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return b, nil, false, errors.New("not a GeoPackage geometry blob")
	}
	flags := blob[3]
	if flags&0x10 != 0 {
		return b, nil, false, nil
	}

	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}

	envSize := map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}[(flags>>1)&0x07]
	header := 8 + envSize
	if len(blob) < header {
		return b, nil, false, errors.New("truncated geometry envelope")
	}

	hasEnvelope := envSize > 0
	if hasEnvelope {
		env := make([]float64, 4)
		for i := range env {
			env[i] = math.Float64frombits(order.Uint64(blob[8+8*i:]))
		}
		// Envelope order is minx, maxx, miny, maxy.
		b = orb.Bound{Min: orb.Point{env[0], env[2]}, Max: orb.Point{env[1], env[3]}}
		if !wantPoints {
			return b, nil, true, nil
		}
	}

	g, err := wkb.Unmarshal(blob[header:])
	if err != nil {
		return b, nil, false, errors.Wrap(err, "decode wkb")
	}
	pts = geo.Points(g)
	if len(pts) == 0 {
		return b, nil, false, nil
	}
	if !hasEnvelope {
		b = orb.MultiPoint(pts).Bound()
	}
	return b, pts, true, nil
}

// readSpatiaLiteLayer reads a SpatiaLite layer extent from the MBR stored
// in each geometry blob. Convex hulls are not computed for SpatiaLite.
func readSpatiaLiteLayer(ctx context.Context, db *sql.DB, layer string) (*VectorInfo, error) {
	var column string
	var srid int
	err := sq.Select("f_geometry_column", "srid").
		From("geometry_columns").
		Where(sq.Eq{"f_table_name": layer}).
		Limit(1).
		RunWith(db).
		QueryRowContext(ctx).
		Scan(&column, &srid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, unreadable(nil, "layer %s has no registered geometry column", layer)
	}
	if err != nil {
		return nil, unreadable(err, "geometry column of %s", layer)
	}
	if srid <= 0 {
		return nil, noCRS("layer uses undefined srid %d", srid)
	}

	info := &VectorInfo{CRS: spatiaLiteSRS(ctx, db, srid), DataType: "SpatiaLite Layer"}
	rows, err := sq.Select(quoteIdent(column)).
		From(quoteIdent(layer)).
		Where(sq.NotEq{quoteIdent(column): nil}).
		RunWith(db).
		QueryContext(ctx)
	if err != nil {
		return nil, unreadable(err, "scan layer %s", layer)
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, unreadable(err, "scan geometry")
		}
		b, err := spatiaLiteMBR(blob)
		if err != nil {
			return nil, unreadable(err, "feature %d of %s", info.Features+1, layer)
		}
		if info.Features == 0 {
			info.Bound = b
		} else {
			info.Bound = info.Bound.Union(b)
		}
		info.Features++
	}
	if err := rows.Err(); err != nil {
		return nil, unreadable(err, "scan layer %s", layer)
	}
	return info, nil
}

func spatiaLiteSRS(ctx context.Context, db *sql.DB, srid int) crs.CRS {
	var auth sql.NullString
	var authSRID sql.NullInt64
	err := sq.Select("auth_name", "auth_srid").
		From("spatial_ref_sys").
		Where(sq.Eq{"srid": srid}).
		RunWith(db).
		QueryRowContext(ctx).
		Scan(&auth, &authSRID)
	if err == nil && strings.EqualFold(auth.String, "EPSG") && authSRID.Int64 > 0 {
		return crs.EPSG(int(authSRID.Int64))
	}
	// SpatiaLite srids are EPSG codes unless the catalogue says otherwise.
	return crs.EPSG(srid)
}

// spatiaLiteMBR reads the minimum bounding rectangle at bytes 6..38 of a
// SpatiaLite geometry blob.
func spatiaLiteMBR(blob []byte) (orb.Bound, error) {
	if len(blob) < 39 || blob[0] != 0x00 || blob[38] != 0x7C {
		return orb.Bound{}, errors.New("not a SpatiaLite geometry blob")
	}
	var order binary.ByteOrder = binary.BigEndian
	if blob[1] == 0x01 {
		order = binary.LittleEndian
	}
	v := make([]float64, 4)
	for i := range v {
		v[i] = math.Float64frombits(order.Uint64(blob[6+8*i:]))
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
