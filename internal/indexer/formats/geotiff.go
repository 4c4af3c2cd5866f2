package formats

import (
	"context"
	"os"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

// GeoTIFF tags.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoAsciiParams      = 34737
)

// GeoTIFFReader reads raster georeferencing from GeoTIFF tags, falling back
// to world-file and .prj sidecars.
type GeoTIFFReader struct{}

// NewGeoTIFFReader creates a GeoTIFF reader.
func NewGeoTIFFReader() *GeoTIFFReader {
	return &GeoTIFFReader{}
}

// ReadRaster reads the first image directory of path.
func (r *GeoTIFFReader) ReadRaster(ctx context.Context, path string) (*RasterInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer f.Close()

	ifd, err := readTIFF(f)
	if err != nil {
		return nil, unreadable(err, "parse tiff header")
	}

	width, okW := ifd.uint(tagImageWidth)
	height, okH := ifd.uint(tagImageLength)
	if !okW || !okH {
		return nil, unreadable(nil, "tiff has no image dimensions")
	}
	if width == 0 || height == 0 {
		return nil, empty("raster has zero dimensions %dx%d", width, height)
	}

	info := &RasterInfo{Width: int(width), Height: int(height), DataType: "GeoTIFF"}

	var keys crs.GeoKeys
	if dir := ifd.shorts(tagGeoKeyDirectory); dir != nil {
		keys, err = crs.ParseGeoKeys(dir)
		if err != nil {
			return nil, unreadable(err, "geokey directory")
		}
		if c, ok := keys.CRS(); ok {
			if !c.HasCode() {
				if citation := ifd.ascii(tagGeoAsciiParams); citation != "" {
					c.Name = citation
				}
			}
			info.CRS = c
		}
	}

	info.Transform = tiffTransform(ifd, keys.RasterType == crs.RasterPixelIsPoint)
	if info.Transform == nil {
		gt, err := readWorldFile(path)
		if err != nil {
			return nil, err
		}
		info.Transform = gt
	}
	if info.Transform == nil {
		return nil, noCRS("no georeferencing embedded or in sidecar files")
	}

	if info.CRS.IsZero() {
		c, err := readPrj(path)
		if err != nil {
			return nil, err
		}
		info.CRS = c
	}
	if info.CRS.IsZero() {
		return nil, noCRS("geotransform present but no spatial reference")
	}
	return info, nil
}

// tiffTransform builds a GDAL-order transform from ModelTransformation or
// from ModelPixelScale and the first ModelTiepoint.
func tiffTransform(ifd *tiffIFD, pixelIsPoint bool) *GeoTransform {
	var gt GeoTransform
	switch m := ifd.doubles(tagModelTransformation); {
	case len(m) >= 16:
		gt = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	default:
		scale := ifd.doubles(tagModelPixelScale)
		tie := ifd.doubles(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 || scale[0] == 0 || scale[1] == 0 {
			return nil
		}
		gt = GeoTransform{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	if pixelIsPoint {
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}
	return &gt
}
