package storage

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/geo"
	"github.com/mvp-joe/geoindexer/internal/indexer"
)

var fixtureTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) *crs.Registry {
	t.Helper()
	reg, err := crs.NewRegistry(0)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func utmSquare(minE, minN, size float64) orb.Polygon {
	return geo.BoundPolygon(orb.Bound{Min: orb.Point{minE, minN}, Max: orb.Point{minE + size, minN + size}})
}

// sampleRecords covers two adjacent UTM 33N squares, a WGS 84 photo
// location and an invalid footprint.
func sampleRecords() []indexer.FootprintRecord {
	rec := func(path string, fam indexer.Family, g orb.Geometry, c crs.CRS, valid bool) indexer.FootprintRecord {
		return indexer.FootprintRecord{
			Asset:    indexer.AssetDescriptor{Path: path, Family: fam},
			Geometry: g,
			CRS:      c,
			Valid:    valid,
			DataType: "test",
			ModTime:  fixtureTime,
		}
	}
	return []indexer.FootprintRecord{
		rec("/data/a.tif", indexer.FamilyRaster, utmSquare(500000, 4000000, 1000), crs.EPSG(32633), true),
		rec("/data/b.shp", indexer.FamilyVector, utmSquare(501000, 4000000, 1000), crs.EPSG(32633), true),
		rec("/data/c.jpg", indexer.FamilyImage, orb.Point{15.005, 36.14}, crs.WGS84, true),
		rec("/data/d.las", indexer.FamilyPointCloud, utmSquare(502000, 4000000, 0), crs.EPSG(32633), false),
	}
}

// sampleResult builds the result of a run over sampleRecords with one
// failed asset.
func sampleResult(t *testing.T, reg *crs.Registry) *indexer.Result {
	t.Helper()
	records := sampleRecords()

	report := indexer.NewRunReport()
	for _, r := range records {
		report.Attempt(r.Asset.Family)
		report.Succeed(r.Asset.Family)
	}
	report.Attempt(indexer.FamilyVector)
	report.Fail(indexer.FailureEntry{
		Path:   "/data/broken.shp",
		Family: indexer.FamilyVector,
		Kind:   indexer.FailureUnreadable,
		Detail: "truncated header",
		Time:   fixtureTime,
	})

	return &indexer.Result{
		Coverage: indexer.NewAggregator(reg, crs.CRS{}, nil, nil).Aggregate(records),
		Snapshot: report.Finalize(),
		Records:  records,
	}
}
