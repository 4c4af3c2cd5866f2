package formats

import (
	"context"
	"path/filepath"
	"strings"
)

// Library routes reads to the format reader registered for a file
// extension. Layer reads always go to the container reader of the file.
type Library struct {
	geotiff    *GeoTIFFReader
	nitf       *NITFReader
	dted       *DTEDReader
	las        *LASReader
	shapefile  *ShapefileReader
	geojson    *GeoJSONReader
	kml        *KMLReader
	exif       *EXIFReader
	geopackage *GeoPackageReader
}

// NewLibrary creates a Library with every built-in reader.
func NewLibrary() *Library {
	return &Library{
		geotiff:    NewGeoTIFFReader(),
		nitf:       NewNITFReader(),
		dted:       NewDTEDReader(),
		las:        NewLASReader(),
		shapefile:  NewShapefileReader(),
		geojson:    NewGeoJSONReader(),
		kml:        NewKMLReader(),
		exif:       NewEXIFReader(),
		geopackage: NewGeoPackageReader(),
	}
}

// ContainerExtensions lists the extensions Open understands.
func (l *Library) ContainerExtensions() []string {
	return []string{".gpkg", ".sqlite", ".db"}
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Open opens a multi-layer container.
func (l *Library) Open(ctx context.Context, path string) (Container, error) {
	switch extOf(path) {
	case ".gpkg", ".sqlite", ".db":
		return l.geopackage.Open(ctx, path)
	}
	return nil, unsupported("no container reader for %s", extOf(path))
}

// ReadRaster reads a raster file or a raster layer of a container.
func (l *Library) ReadRaster(ctx context.Context, path, layer string) (*RasterInfo, error) {
	e := extOf(path)
	if layer != "" {
		switch e {
		case ".gpkg", ".sqlite", ".db":
			return l.geopackage.ReadRaster(ctx, path, layer)
		}
		return nil, unsupported("no raster layer reader for %s", e)
	}

	switch e {
	case ".tif", ".tiff":
		return l.geotiff.ReadRaster(ctx, path)
	case ".ntf", ".nitf":
		return l.nitf.ReadRaster(ctx, path)
	case ".dt0", ".dt1", ".dt2":
		return l.dted.ReadRaster(ctx, path)
	}
	return nil, unsupported("no raster reader for %s", e)
}

// ReadVector reads a single-layer vector file or a vector layer of a container.
func (l *Library) ReadVector(ctx context.Context, path, layer string, opts VectorOptions) (*VectorInfo, error) {
	e := extOf(path)
	if layer != "" {
		switch e {
		case ".gpkg", ".sqlite", ".db":
			return l.geopackage.ReadVector(ctx, path, layer, opts)
		}
		return nil, unsupported("no vector layer reader for %s", e)
	}

	switch e {
	case ".shp":
		return l.shapefile.ReadVector(ctx, path, opts)
	case ".geojson", ".json":
		return l.geojson.ReadVector(ctx, path, opts)
	case ".kml", ".kmz":
		return l.kml.ReadVector(ctx, path, opts)
	}
	return nil, unsupported("no vector reader for %s", e)
}

// ReadPointCloud reads a point cloud header.
func (l *Library) ReadPointCloud(ctx context.Context, path string) (*PointCloudInfo, error) {
	switch e := extOf(path); e {
	case ".las", ".laz":
		return l.las.ReadPointCloud(ctx, path)
	default:
		return nil, unsupported("no point cloud reader for %s", e)
	}
}

// ReadImage reads embedded image geolocation.
func (l *Library) ReadImage(ctx context.Context, path string) (*ImageInfo, error) {
	switch e := extOf(path); e {
	case ".jpg", ".jpeg":
		return l.exif.ReadImage(ctx, path)
	default:
		return nil, unsupported("no image reader for %s", e)
	}
}
