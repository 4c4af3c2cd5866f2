package indexer

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/geo"
	"github.com/mvp-joe/geoindexer/internal/indexer/formats"
)

// Reader interfaces over the format libraries. formats.Library implements
// all of them; tests substitute fakes.
type (
	RasterReader interface {
		ReadRaster(ctx context.Context, path, layer string) (*formats.RasterInfo, error)
	}

	VectorReader interface {
		ReadVector(ctx context.Context, path, layer string, opts formats.VectorOptions) (*formats.VectorInfo, error)
	}

	PointCloudReader interface {
		ReadPointCloud(ctx context.Context, path string) (*formats.PointCloudInfo, error)
	}

	ImageReader interface {
		ReadImage(ctx context.Context, path string) (*formats.ImageInfo, error)
	}

	ContainerReader interface {
		Open(ctx context.Context, path string) (formats.Container, error)
	}
)

// Extractor computes the footprint of one concrete-family asset.
// Errors are classified by the dispatcher; an *ExtractionError keeps its kind.
type Extractor interface {
	Extract(ctx context.Context, asset AssetDescriptor) (*Footprint, error)
}

// RasterExtractor builds the footprint from the four transformed pixel
// corners, so rotated and skewed rasters keep their true shape.
type RasterExtractor struct {
	reader RasterReader
}

func NewRasterExtractor(r RasterReader) *RasterExtractor {
	return &RasterExtractor{reader: r}
}

func (e *RasterExtractor) Extract(ctx context.Context, asset AssetDescriptor) (*Footprint, error) {
	info, err := e.reader.ReadRaster(ctx, asset.Path, asset.Layer)
	if err != nil {
		return nil, err
	}

	var corners [4]orb.Point
	switch {
	case len(info.Corners) == 4:
		copy(corners[:], info.Corners)
	case len(info.Corners) > 0:
		return nil, newExtractionError(FailureUnreadable, nil, "raster has %d ground corners, want 4", len(info.Corners))
	case info.Transform != nil:
		corners = info.Transform.Corners(info.Width, info.Height)
	default:
		return nil, newExtractionError(FailureMissingCRS, nil, "raster has no georeferencing")
	}
	if info.CRS.IsZero() {
		return nil, newExtractionError(FailureMissingCRS, nil, "raster has no spatial reference")
	}

	poly := geo.CornerPolygon(corners)
	if !geo.Finite(poly) {
		return nil, newExtractionError(FailureUnreadable, nil, "raster corners are not finite")
	}
	if poly[0].Orientation() == orb.CW {
		poly[0].Reverse()
	}

	return &Footprint{
		Geometry: poly,
		CRS:      info.CRS,
		Valid:    !geo.Degenerate(poly),
		DataType: info.DataType,
	}, nil
}

// VectorExtractor uses the bounding extent of all features, or their convex
// hull when configured. A layer without features is an invalid footprint,
// not a failure.
type VectorExtractor struct {
	reader VectorReader
	opts   formats.VectorOptions
}

func NewVectorExtractor(r VectorReader, convexHull bool) *VectorExtractor {
	return &VectorExtractor{reader: r, opts: formats.VectorOptions{ConvexHull: convexHull}}
}

func (e *VectorExtractor) Extract(ctx context.Context, asset AssetDescriptor) (*Footprint, error) {
	info, err := e.reader.ReadVector(ctx, asset.Path, asset.Layer, e.opts)
	if err != nil {
		return nil, err
	}
	if info.CRS.IsZero() {
		return nil, newExtractionError(FailureMissingCRS, nil, "layer declares no spatial reference")
	}

	if info.Features == 0 {
		return &Footprint{Geometry: orb.Polygon{}, CRS: info.CRS, Valid: false, DataType: info.DataType}, nil
	}

	var g orb.Geometry
	switch {
	case len(info.Hull) >= 4:
		g = orb.Polygon{info.Hull.Clone()}
	case info.Bound.Min.Equal(info.Bound.Max):
		g = info.Bound.Min
	default:
		g = geo.BoundPolygon(info.Bound)
	}
	if !geo.Finite(g) {
		return nil, newExtractionError(FailureUnreadable, nil, "layer extent is not finite")
	}

	return &Footprint{Geometry: g, CRS: info.CRS, Valid: !geo.Degenerate(g), DataType: info.DataType}, nil
}

// PointCloudExtractor reads header bounds only.
type PointCloudExtractor struct {
	reader PointCloudReader
}

func NewPointCloudExtractor(r PointCloudReader) *PointCloudExtractor {
	return &PointCloudExtractor{reader: r}
}

func (e *PointCloudExtractor) Extract(ctx context.Context, asset AssetDescriptor) (*Footprint, error) {
	info, err := e.reader.ReadPointCloud(ctx, asset.Path)
	if err != nil {
		return nil, err
	}
	if info.CRS.IsZero() {
		return nil, newExtractionError(FailureMissingCRS, nil, "point cloud declares no spatial reference")
	}

	poly := geo.BoundPolygon(orb.Bound{
		Min: orb.Point{info.Min[0], info.Min[1]},
		Max: orb.Point{info.Max[0], info.Max[1]},
	})
	if !geo.Finite(poly) {
		return nil, newExtractionError(FailureUnreadable, nil, "point cloud bounds are not finite")
	}

	return &Footprint{Geometry: poly, CRS: info.CRS, Valid: !geo.Degenerate(poly), DataType: info.DataType}, nil
}

// ImageExtractor places an image at its embedded geolocation.
type ImageExtractor struct {
	reader ImageReader
}

func NewImageExtractor(r ImageReader) *ImageExtractor {
	return &ImageExtractor{reader: r}
}

func (e *ImageExtractor) Extract(ctx context.Context, asset AssetDescriptor) (*Footprint, error) {
	info, err := e.reader.ReadImage(ctx, asset.Path)
	if err != nil {
		return nil, err
	}
	if info.CRS.IsZero() {
		return nil, newExtractionError(FailureMissingCRS, nil, "image has no geotag")
	}
	if !geo.Finite(info.Location) {
		return nil, newExtractionError(FailureUnreadable, nil, "image location is not finite")
	}
	return &Footprint{Geometry: info.Location, CRS: info.CRS, Valid: true, DataType: info.DataType}, nil
}
