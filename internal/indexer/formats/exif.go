package formats

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

var jpegSOI = []byte{0xFF, 0xD8}

// EXIFReader reads the GPS position embedded in JPEG EXIF metadata.
type EXIFReader struct{}

// NewEXIFReader creates a JPEG EXIF reader.
func NewEXIFReader() *EXIFReader {
	return &EXIFReader{}
}

// ReadImage returns the GPS position of path in EPSG:4326.
func (r *EXIFReader) ReadImage(ctx context.Context, path string) (*ImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer f.Close()

	soi := make([]byte, 2)
	if _, err := io.ReadFull(f, soi); err != nil || !bytes.Equal(soi, jpegSOI) {
		return nil, unreadable(err, "not a JPEG file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, unreadable(err, "rewind")
	}

	x, err := exif.Decode(f)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), strings.Contains(err.Error(), "exif intro marker"):
		return nil, noCRS("image has no EXIF metadata")
	case x != nil && !exif.IsCriticalError(err):
		// Sub-IFD errors leave the decoded GPS tags usable.
	default:
		return nil, unreadable(err, "decode EXIF")
	}

	lat, lon, err := x.LatLong()
	if err != nil {
		return nil, noCRS("image has no GPS geotag")
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return nil, unreadable(nil, "GPS position %f,%f out of range", lat, lon)
	}

	return &ImageInfo{
		Location: orb.Point{lon, lat},
		CRS:      crs.WGS84,
		DataType: "JPEG (EXIF GPS)",
	}, nil
}
