// Package formats reads georeferencing headers from the geospatial file
// formats the indexer recognizes. Readers only look at headers, layer
// metadata and sidecar files; they never decode pixel or point payloads.
package formats

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

// Failure classes. Reader errors match one of these with errors.Is, from
// either the standard library or cockroachdb/errors.
var (
	// ErrUnreadable marks a file or header that cannot be opened or parsed.
	ErrUnreadable = errors.New("unreadable")

	// ErrUnsupported marks a recognized format whose internal variant is not supported.
	ErrUnsupported = errors.New("unsupported subtype")

	// ErrNoCRS marks content without any spatial reference.
	ErrNoCRS = errors.New("no spatial reference")

	// ErrEmpty marks content that was read successfully but holds no coordinates.
	ErrEmpty = errors.New("no coordinates")
)

// classedError attaches a failure class to cause without changing its
// message. Unwrap keeps the underlying reader error reachable.
type classedError struct {
	class error
	cause error
}

func (e *classedError) Error() string { return e.cause.Error() }

func (e *classedError) Unwrap() error { return e.cause }

func (e *classedError) Is(target error) bool { return target == e.class }

func withClass(class, cause error) error {
	return &classedError{class: class, cause: cause}
}

func unreadable(err error, format string, args ...any) error {
	if err == nil {
		return withClass(ErrUnreadable, errors.Newf(format, args...))
	}
	return withClass(ErrUnreadable, errors.Wrapf(err, format, args...))
}

func unsupported(format string, args ...any) error {
	return withClass(ErrUnsupported, errors.Newf(format, args...))
}

func noCRS(format string, args ...any) error {
	return withClass(ErrNoCRS, errors.Newf(format, args...))
}

func empty(format string, args ...any) error {
	return withClass(ErrEmpty, errors.Newf(format, args...))
}

// GeoTransform is an affine pixel-to-world transform in GDAL order:
// originX, pixelWidth, rowRotation, originY, columnRotation, pixelHeight.
type GeoTransform [6]float64

// Apply maps a pixel-space position to world coordinates.
func (t GeoTransform) Apply(col, row float64) orb.Point {
	return orb.Point{
		t[0] + col*t[1] + row*t[2],
		t[3] + col*t[4] + row*t[5],
	}
}

// Corners maps the four outer pixel corners of a width x height grid, in
// the order upper-left, upper-right, lower-right, lower-left.
func (t GeoTransform) Corners(width, height int) [4]orb.Point {
	w, h := float64(width), float64(height)
	return [4]orb.Point{t.Apply(0, 0), t.Apply(w, 0), t.Apply(w, h), t.Apply(0, h)}
}

// RasterInfo is the georeferencing header of a raster or raster layer.
// Formats that carry ground corners directly (NITF, DTED) fill Corners;
// others fill Transform.
type RasterInfo struct {
	Width     int
	Height    int
	Transform *GeoTransform
	Corners   []orb.Point
	CRS       crs.CRS
	DataType  string
}

// VectorOptions tunes vector extent computation.
type VectorOptions struct {
	// ConvexHull requests the convex hull of all vertices in addition to the bound.
	ConvexHull bool
}

// VectorInfo summarizes one vector layer.
type VectorInfo struct {
	Features int
	Bound    orb.Bound
	Hull     orb.Ring
	CRS      crs.CRS
	DataType string
}

// PointCloudInfo is the public header of a point cloud.
type PointCloudInfo struct {
	Points   uint64
	Min      [3]float64
	Max      [3]float64
	CRS      crs.CRS
	DataType string
}

// ImageInfo is the embedded geolocation of an image.
type ImageInfo struct {
	Location orb.Point
	CRS      crs.CRS
	DataType string
}

// LayerKind is the native kind of a layer inside a container.
type LayerKind string

const (
	LayerRaster LayerKind = "raster"
	LayerVector LayerKind = "vector"
)

// Layer is one entry of a container listing. Err carries a failure to read
// the layer's own metadata; the layer is still listed.
type Layer struct {
	Name string
	Kind LayerKind
	Err  error
}

// Container is an open multi-layer container. Layers lists lazily; Close
// releases the underlying handle.
type Container interface {
	Layers(ctx context.Context) iter.Seq2[Layer, error]
	Close() error
}
