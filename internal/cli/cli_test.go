package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/geoindexer/internal/config"
	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/storage"
)

// Test Plan for the CLI:
// - executeIndex over a real tree writes GeoJSON output, catalogs the run and
//   prints statistics, failures and written paths
// - A cancelled run still writes and catalogs its partial output, then
//   returns ErrCancelled
// - Quiet mode prints nothing; --no-catalog leaves no catalog behind
// - Watch mode returns cleanly once the context is cancelled
// - runs lists catalogued runs; report prints text and JSON for a run
// - runs and report fail helpfully before any index
// - formatNumber and formatDuration render human-readable values
// - The progress reporter grows its total for container layers and stays
//   silent in quiet mode

func init() {
	pterm.DisableStyling()
}

const squareGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[15,36],[15.1,36],[15.1,36.1],[15,36.1],[15,36]]]}}]}`

// testTree writes one readable GeoJSON file and one unreadable raster.
func testTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vectors"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vectors", "square.geojson"), []byte(squareGeoJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.tif"), []byte("not a tiff"), 0o644))
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Search.Root = root
	cfg.Extraction.Workers = 2
	cfg.Extraction.Timeout = 10 * time.Second
	return cfg
}

func TestExecuteIndex_WritesAndCatalogs(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := testConfig(root)
	var out, errOut bytes.Buffer

	err := executeIndex(context.Background(), cfg, indexOptions{out: &out, errOut: &errOut})
	require.NoError(t, err)

	// Test: output written to the default directory
	coverage := filepath.Join(cfg.OutputDir(), "coverage.geojson")
	assert.FileExists(t, coverage)
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "report.json"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "union.geojson"))

	// Test: summary lists statistics, failures and written paths
	summary := out.String()
	assert.Contains(t, summary, "vector")
	assert.Contains(t, summary, "raster")
	assert.Contains(t, summary, filepath.Join(root, "broken.tif"))
	assert.Contains(t, summary, "Features: 1")
	assert.Contains(t, summary, coverage)

	// Test: progress goes to the error stream
	assert.Contains(t, errOut.String(), "Found 2 candidate files")
	assert.Contains(t, errOut.String(), "1 of 2 assets")

	// Test: the run is catalogued
	catalog, err := storage.OpenCatalog(cfg.CatalogPath(), nil)
	require.NoError(t, err)
	defer catalog.Close()
	runs, err := catalog.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, indexer.Counts{Attempted: 2, Succeeded: 1, Failed: 1}, runs[0].Totals)
	assert.Equal(t, 1, runs[0].Features)
	assert.Contains(t, summary, runs[0].ID)
}

func TestExecuteIndex_SecondRunDoesNotIndexOutput(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := testConfig(root)
	cfg.Output.Dir = "coverage"

	for range 2 {
		require.NoError(t, executeIndex(context.Background(), cfg, indexOptions{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, quiet: true}))
	}

	catalog, err := storage.OpenCatalog(cfg.CatalogPath(), nil)
	require.NoError(t, err)
	defer catalog.Close()
	runs, err := catalog.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, 2, r.Totals.Attempted)
	}
}

func TestExecuteIndex_CancelledRunStillWrites(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := testConfig(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := executeIndex(ctx, cfg, indexOptions{out: &out, errOut: &bytes.Buffer{}})
	require.ErrorIs(t, err, ErrCancelled)

	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "coverage.geojson"))
	assert.FileExists(t, cfg.CatalogPath())
	assert.Contains(t, out.String(), "Run cancelled")
}

func TestExecuteIndex_QuietWithoutCatalog(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := testConfig(root)
	cfg.Catalog.Enabled = false
	cfg.Output.Formats = []string{"geojson", "gpkg"}

	var out, errOut bytes.Buffer
	err := executeIndex(context.Background(), cfg, indexOptions{out: &out, errOut: &errOut, quiet: true})
	require.NoError(t, err)

	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())
	assert.NoFileExists(t, cfg.CatalogPath())
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), storage.DefaultGeoPackageName))
}

func TestExecuteIndex_WatchStopsOnCancel(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := testConfig(root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- executeIndex(ctx, cfg, indexOptions{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, quiet: true, watch: true})
	}()

	// The first run has been catalogued once the catalog file exists.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.OutputDir(), "report.json"))
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch mode did not stop")
	}
}

func TestRunsAndReport(t *testing.T) {
	t.Parallel()

	root := testTree(t)
	cfg := testConfig(root)
	ctx := context.Background()

	// Test: both commands explain that nothing was indexed yet
	err := listRuns(ctx, cfg, &bytes.Buffer{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geoindexer index")
	require.Error(t, showReport(ctx, cfg, &bytes.Buffer{}, "", false))

	require.NoError(t, executeIndex(ctx, cfg, indexOptions{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, quiet: true}))

	catalog, err := storage.OpenCatalog(cfg.CatalogPath(), nil)
	require.NoError(t, err)
	runs, err := catalog.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, catalog.Close())
	require.Len(t, runs, 1)
	id := runs[0].ID

	// Test: runs lists the run
	var list bytes.Buffer
	require.NoError(t, listRuns(ctx, cfg, &list, 10))
	assert.Contains(t, list.String(), id)
	assert.Contains(t, list.String(), "1/2")
	assert.Contains(t, list.String(), "complete")

	// Test: report of the latest run lists every failure
	var text bytes.Buffer
	require.NoError(t, showReport(ctx, cfg, &text, "", false))
	assert.Contains(t, text.String(), "Run "+id)
	assert.Contains(t, text.String(), filepath.Join(root, "broken.tif"))
	assert.Contains(t, text.String(), "Features: 1")

	// Test: JSON report decodes to the snapshot
	var raw bytes.Buffer
	require.NoError(t, showReport(ctx, cfg, &raw, id, true))
	var snap indexer.Snapshot
	require.NoError(t, json.Unmarshal(raw.Bytes(), &snap))
	assert.Equal(t, id, snap.RunID)
	assert.Equal(t, indexer.Counts{Attempted: 2, Succeeded: 1, Failed: 1}, snap.Totals())

	// Test: unknown run id
	err = showReport(ctx, cfg, &bytes.Buffer{}, "no-such-run", false)
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
}

func TestPrintSnapshot_LimitsFailures(t *testing.T) {
	t.Parallel()

	s := &indexer.Snapshot{
		Statistics: map[indexer.Family]indexer.Counts{
			indexer.FamilyVector: {Attempted: 12, Succeeded: 0, Failed: 12},
		},
		Failures: map[indexer.FailureKind][]string{},
	}
	for i := range 12 {
		s.Failures[indexer.FailureUnreadable] = append(s.Failures[indexer.FailureUnreadable], filepath.Join("/data", string(rune('a'+i))+".shp"))
	}

	var limited bytes.Buffer
	require.NoError(t, printSnapshot(&limited, s, 10))
	assert.Contains(t, limited.String(), "(12)")
	assert.Contains(t, limited.String(), "/data/j.shp")
	assert.NotContains(t, limited.String(), "/data/k.shp")
	assert.Contains(t, limited.String(), "... and 2 more")

	var all bytes.Buffer
	require.NoError(t, printSnapshot(&all, s, 0))
	assert.Contains(t, all.String(), "/data/l.shp")
	assert.NotContains(t, all.String(), "more")
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{-123456, "-123,456"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "4.5s", formatDuration(4500*time.Millisecond))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 30m", formatDuration(90*time.Minute))
	assert.Equal(t, "2d 3h", formatDuration(51*time.Hour))
}

func TestCLIProgressReporter(t *testing.T) {
	t.Parallel()

	snap := &indexer.Snapshot{Statistics: map[indexer.Family]indexer.Counts{
		indexer.FamilyContainer: {Attempted: 3, Succeeded: 2, Failed: 1},
	}}

	t.Run("quiet", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewCLIProgressReporter(&buf, true)
		p.OnDiscoveryStart()
		p.OnDiscoveryComplete(1)
		p.OnExtractionStart(1)
		p.OnContainerExpanded("/data/a.gpkg", 3)
		p.OnAssetProcessed(indexer.AssetDescriptor{Path: "/data/a.gpkg"}, indexer.Outcome{})
		p.OnAggregationStart(1)
		p.OnComplete(snap)
		assert.Empty(t, buf.String())
	})

	t.Run("container layers extend the total", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewCLIProgressReporter(&buf, false)
		p.OnDiscoveryStart()
		p.OnDiscoveryComplete(1)
		p.OnExtractionStart(1)
		p.OnContainerExpanded("/data/a.gpkg", 3)
		assert.Equal(t, 3, p.total)

		for i := range 3 {
			outcome := indexer.Outcome{Record: &indexer.FootprintRecord{}}
			if i == 2 {
				outcome = indexer.Outcome{Failure: &indexer.FailureEntry{Kind: indexer.FailureUnreadable}}
			}
			p.OnAssetProcessed(indexer.AssetDescriptor{Path: "/data/a.gpkg", Layer: string(rune('a' + i))}, outcome)
		}
		assert.Equal(t, 3, p.processed)
		assert.Equal(t, 1, p.failed)

		p.OnAggregationStart(2)
		p.OnComplete(snap)
		assert.Contains(t, buf.String(), "Found 1 candidate files")
		assert.Contains(t, buf.String(), "Aggregating 2 footprints")
		assert.Contains(t, buf.String(), "✓ Indexing complete: 2 of 3 assets")
	})
}
