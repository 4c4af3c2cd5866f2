package indexer

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/indexer/formats"
)

// fakeReader serves canned headers keyed by "path" or "path | layer".
// It implements every reader interface plus ContainerReader.
type fakeReader struct {
	mu         sync.Mutex
	rasters    map[string]*formats.RasterInfo
	vectors    map[string]*formats.VectorInfo
	clouds     map[string]*formats.PointCloudInfo
	images     map[string]*formats.ImageInfo
	errs       map[string]error
	containers map[string]*fakeContainer
	openErrs   map[string]error
	calls      map[string]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		rasters:    make(map[string]*formats.RasterInfo),
		vectors:    make(map[string]*formats.VectorInfo),
		clouds:     make(map[string]*formats.PointCloudInfo),
		images:     make(map[string]*formats.ImageInfo),
		errs:       make(map[string]error),
		containers: make(map[string]*fakeContainer),
		openErrs:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeReader) lookup(path, layer string) (string, error) {
	key := assetID(path, layer)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if err, ok := f.errs[key]; ok {
		return key, err
	}
	return key, nil
}

var errNoEntry = errors.New("fake: no entry")

func (f *fakeReader) ReadRaster(ctx context.Context, path, layer string) (*formats.RasterInfo, error) {
	key, err := f.lookup(path, layer)
	if err != nil {
		return nil, err
	}
	if info, ok := f.rasters[key]; ok {
		return info, nil
	}
	return nil, errNoEntry
}

func (f *fakeReader) ReadVector(ctx context.Context, path, layer string, opts formats.VectorOptions) (*formats.VectorInfo, error) {
	key, err := f.lookup(path, layer)
	if err != nil {
		return nil, err
	}
	if info, ok := f.vectors[key]; ok {
		return info, nil
	}
	return nil, errNoEntry
}

func (f *fakeReader) ReadPointCloud(ctx context.Context, path string) (*formats.PointCloudInfo, error) {
	key, err := f.lookup(path, "")
	if err != nil {
		return nil, err
	}
	if info, ok := f.clouds[key]; ok {
		return info, nil
	}
	return nil, errNoEntry
}

func (f *fakeReader) ReadImage(ctx context.Context, path string) (*formats.ImageInfo, error) {
	key, err := f.lookup(path, "")
	if err != nil {
		return nil, err
	}
	if info, ok := f.images[key]; ok {
		return info, nil
	}
	return nil, errNoEntry
}

func (f *fakeReader) Open(ctx context.Context, path string) (formats.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.openErrs[path]; ok {
		return nil, err
	}
	c, ok := f.containers[path]
	if !ok {
		return nil, errNoEntry
	}
	c.opened++
	return c, nil
}

// fakeContainer lists its layers, then fails with listErr or panics with
// panicWith when set.
type fakeContainer struct {
	layers    []formats.Layer
	listErr   error
	panicWith any
	opened    int
	closed    int
}

func (c *fakeContainer) Layers(ctx context.Context) iter.Seq2[formats.Layer, error] {
	return func(yield func(formats.Layer, error) bool) {
		for _, l := range c.layers {
			if !yield(l, nil) {
				return
			}
		}
		if c.panicWith != nil {
			panic(c.panicWith)
		}
		if c.listErr != nil {
			yield(formats.Layer{}, c.listErr)
		}
	}
}

func (c *fakeContainer) Close() error {
	c.closed++
	return nil
}

func rasterInfo(t formats.GeoTransform, w, h int, code int) *formats.RasterInfo {
	return &formats.RasterInfo{Width: w, Height: h, Transform: &t, CRS: crs.EPSG(code), DataType: "GeoTIFF"}
}

func vectorInfo(b orb.Bound, features int, code int) *formats.VectorInfo {
	return &formats.VectorInfo{Features: features, Bound: b, CRS: crs.EPSG(code), DataType: "Esri Shapefile"}
}

func cloudInfo(minX, minY, maxX, maxY float64, code int) *formats.PointCloudInfo {
	return &formats.PointCloudInfo{
		Points:   100,
		Min:      [3]float64{minX, minY, 0},
		Max:      [3]float64{maxX, maxY, 10},
		CRS:      crs.EPSG(code),
		DataType: "LAS 1.2",
	}
}

func bound(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// touch creates empty files (or directories, for names ending in "/")
// under dir and returns their paths.
func touch(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	out := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if name[len(name)-1] == '/' {
			require.NoError(t, os.MkdirAll(path, 0o755))
			out = append(out, filepath.Clean(path))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		out = append(out, path)
	}
	return out
}

// fakeOptions wires every family and the .gdb container to fr.
func fakeOptions(fr *fakeReader) []Option {
	return []Option{
		WithExtractor(FamilyRaster, NewRasterExtractor(fr)),
		WithExtractor(FamilyVector, NewVectorExtractor(fr, false)),
		WithExtractor(FamilyPointCloud, NewPointCloudExtractor(fr)),
		WithExtractor(FamilyImage, NewImageExtractor(fr)),
		WithoutBuiltinContainers(),
		WithContainerReader(fr, ".gdb", ".gpkg"),
	}
}

func newTestIndexer(t *testing.T, root string, fr *fakeReader, opts ...Option) *Indexer {
	t.Helper()
	cfg := DefaultConfig(root)
	cfg.Workers = 4
	ix, err := New(cfg, append(fakeOptions(fr), opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}
