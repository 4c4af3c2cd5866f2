package formats

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Library:
// - Each family routes by extension, case-insensitively
// - Layer reads route to the container reader
// - Unknown extensions fail with ErrUnsupported
// - Cancelled contexts are honoured before any file is opened
// - Failure classes match with the standard errors.Is and keep the cause reachable

func TestLibrary_Routing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lib := NewLibrary()
	dir := t.TempDir()
	le := binary.LittleEndian

	tif := writeFile(t, filepath.Join(dir, "A.TIF"), buildTIFF(le, geoTIFFTags(le, 2, 2, 0, 10, 5, 4326)))
	r, err := lib.ReadRaster(ctx, tif, "")
	require.NoError(t, err)
	assert.Equal(t, "GeoTIFF", r.DataType)

	js := writeFile(t, filepath.Join(dir, "b.json"), []byte(`{"type":"Point","coordinates":[1,2]}`))
	v, err := lib.ReadVector(ctx, js, "", VectorOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Features)

	las := writeFile(t, filepath.Join(dir, "c.laz"), lasFile(5, [3]float64{0, 0, 0}, [3]float64{1, 1, 1}, geoKeyVLR(32633)))
	pc, err := lib.ReadPointCloud(ctx, las)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), pc.Points)

	jpg := writeFile(t, filepath.Join(dir, "d.JPEG"), exifJPEG(10, 20))
	img, err := lib.ReadImage(ctx, jpg)
	require.NoError(t, err)
	assert.InDelta(t, 20, img.Location.Lon(), 1e-6)

	gpkg := createGeoPackage(t, filepath.Join(dir, "e.gpkg"),
		gpkgLayer{name: "pts", dataType: "features", srsID: 4326, geoms: []orb.Geometry{orb.Point{3, 4}}, register: true},
		gpkgLayer{name: "img", dataType: "tiles", srsID: 32633},
	)
	c, err := lib.Open(ctx, gpkg)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	lv, err := lib.ReadVector(ctx, gpkg, "pts", VectorOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, lv.Features)

	lr, err := lib.ReadRaster(ctx, gpkg, "img")
	require.NoError(t, err)
	assert.Equal(t, 512, lr.Width)
}

func TestLibrary_Unsupported(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lib := NewLibrary()

	_, err := lib.ReadRaster(ctx, "x.png", "")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = lib.ReadRaster(ctx, "x.shp", "layer")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = lib.ReadVector(ctx, "x.csv", "", VectorOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = lib.ReadPointCloud(ctx, "x.e57")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = lib.ReadImage(ctx, "x.heic")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = lib.Open(ctx, "x.zip")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLibrary_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLibrary().ReadRaster(ctx, filepath.Join(t.TempDir(), "missing.tif"), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailureClasses_StandardErrorsIs(t *testing.T) {
	t.Parallel()

	err := unreadable(io.ErrUnexpectedEOF, "tiff header")
	assert.True(t, stderrors.Is(err, ErrUnreadable))
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, stderrors.Is(err, ErrNoCRS))
	assert.Equal(t, "tiff header: unexpected EOF", err.Error())

	assert.True(t, stderrors.Is(unsupported("utm igeolo"), ErrUnsupported))
	assert.True(t, stderrors.Is(noCRS("no prj"), ErrNoCRS))
	assert.True(t, stderrors.Is(empty("zero points"), ErrEmpty))
	assert.Equal(t, "zero points", empty("zero points").Error())

	_, err = NewLibrary().ReadRaster(context.Background(), filepath.Join(t.TempDir(), "missing.tif"), "")
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
