package storage

// Test Plan for the GeoJSON writer:
// - Write produces coverage, one file per aggregate, report and failure log
// - Coverage and aggregate geometry are written in EPSG:4326
// - Footprints in an untransformable CRS keep their native coordinates and CRS
// - An aggregate missing from the result removes the file of an earlier run
// - The failure log has one tab-separated line per ledger entry
// - NewWriters rejects unknown format names

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/indexer"
)

func readCollection(t *testing.T, path string) *geojson.FeatureCollection {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	return fc
}

func TestGeoJSONWriter_Write(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	res := sampleResult(t, reg)
	dir := t.TempDir()

	w, err := NewGeoJSONWriter(dir, reg, true, nil)
	require.NoError(t, err)

	written, err := w.Write(context.Background(), res)
	require.NoError(t, err)

	var names []string
	for _, p := range written {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{
		CoverageFile, "union.geojson", "centroids.geojson", "union_centroid.geojson", ReportFile, FailureFile,
	}, names)

	cov := readCollection(t, filepath.Join(dir, CoverageFile))
	require.Len(t, cov.Features, 4)
	for _, f := range cov.Features {
		assert.Equal(t, "EPSG:4326", f.Properties[indexer.PropCRS])
		b := f.Geometry.Bound()
		assert.True(t, b.Min.X() > 14.9 && b.Max.X() < 15.1, "longitude of %v", f.Properties[indexer.PropFileName])
		assert.True(t, b.Min.Y() > 36.0 && b.Max.Y() < 36.3, "latitude of %v", f.Properties[indexer.PropFileName])
	}
	assert.Equal(t, "WGS 84 / UTM zone 33N", cov.Features[0].Properties[indexer.PropNativeCRS])

	union := readCollection(t, filepath.Join(dir, "union.geojson"))
	require.Len(t, union.Features, 1)
	props := union.Features[0].Properties
	assert.Equal(t, "union", props["kind"])
	assert.Equal(t, float64(2), props["sources"])
	assert.Equal(t, "EPSG:4326", props[indexer.PropCRS])
	assert.Equal(t, "EPSG:32633", props["source_crs"])

	centroids := readCollection(t, filepath.Join(dir, "centroids.geojson"))
	require.Len(t, centroids.Features, 1)
	assert.Equal(t, float64(3), centroids.Features[0].Properties["sources"])

	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	var snap indexer.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, res.Snapshot.RunID, snap.RunID)
	assert.Equal(t, res.Snapshot.Statistics, snap.Statistics)

	data, err = os.ReadFile(filepath.Join(dir, FailureFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "2024-05-01T12:00:00Z\tUnreadable\t/data/broken.shp\ttruncated header", lines[0])
}

func TestGeoJSONWriter_NativeFallback(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	local := indexer.FootprintRecord{
		Asset:    indexer.AssetDescriptor{Path: "/data/z.dat", Family: indexer.FamilyRaster},
		Geometry: utmSquare(100, 100, 50),
		CRS:      crs.CRS{Name: "Local grid"},
		Valid:    true,
		DataType: "test",
	}
	records := append(sampleRecords(), local)
	res := &indexer.Result{
		Coverage: indexer.NewAggregator(reg, crs.CRS{}, nil, nil).Aggregate(records),
		Snapshot: indexer.NewRunReport().Finalize(),
		Records:  records,
	}

	dir := t.TempDir()
	w, err := NewGeoJSONWriter(dir, reg, false, nil)
	require.NoError(t, err)
	written, err := w.Write(context.Background(), res)
	require.NoError(t, err)
	assert.Len(t, written, 5)

	_, err = os.Stat(filepath.Join(dir, FailureFile))
	assert.True(t, os.IsNotExist(err), "failure log is off")

	cov := readCollection(t, filepath.Join(dir, CoverageFile))
	require.Len(t, cov.Features, 5)
	last := cov.Features[4]
	assert.Equal(t, "z.dat", last.Properties[indexer.PropFileName])
	assert.Equal(t, "WKT:Local grid", last.Properties[indexer.PropCRS])
	assert.Equal(t, orb.Bound{Min: orb.Point{100, 100}, Max: orb.Point{150, 150}}, last.Geometry.Bound())
}

func TestGeoJSONWriter_RemovesStaleAggregates(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	dir := t.TempDir()

	w, err := NewGeoJSONWriter(dir, reg, false, nil)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), sampleResult(t, reg))
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "centroids.geojson"))

	records := sampleRecords()
	res := &indexer.Result{
		Coverage: indexer.NewAggregator(reg, crs.CRS{}, []indexer.Derivation{indexer.DerivationUnion}, nil).Aggregate(records),
		Snapshot: indexer.NewRunReport().Finalize(),
		Records:  records,
	}
	_, err = w.Write(context.Background(), res)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "union.geojson"))
	assert.NoFileExists(t, filepath.Join(dir, "centroids.geojson"))
	assert.NoFileExists(t, filepath.Join(dir, "union_centroid.geojson"))
}

func TestNewWriters(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	writers, err := NewWriters(WriterOptions{Dir: t.TempDir(), Formats: []string{"geojson", "GPKG"}, Transformers: reg})
	require.NoError(t, err)
	require.Len(t, writers, 2)
	assert.IsType(t, &GeoJSONWriter{}, writers[0])
	assert.IsType(t, &GeoPackageWriter{}, writers[1])

	_, err = NewWriters(WriterOptions{Dir: t.TempDir(), Formats: []string{"shapefile"}, Transformers: reg})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
