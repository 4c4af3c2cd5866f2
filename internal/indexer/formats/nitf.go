package formats

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

// NITF 2.1 / NSIF 1.0 field offsets. The file header security block is
// fixed-length in these versions, so every field sits at a fixed offset.
const (
	nitfFTitleOffset = 39
	nitfFTitleLen    = 80
	nitfHLOffset     = 354
	nitfNUMIOffset   = 360
	nitfMinHeader    = 363

	nitfNROWSOffset  = 333
	nitfNCOLSOffset  = 341
	nitfICORDSOffset = 371
	nitfIGEOLOOffset = 372
	nitfIGEOLOLen    = 60
)

// NITFReader reads image corner coordinates from the first image subheader
// of a NITF file.
type NITFReader struct{}

// NewNITFReader creates a NITF reader.
func NewNITFReader() *NITFReader {
	return &NITFReader{}
}

// ReadRaster reads the IGEOLO corners of the first image segment.
func (r *NITFReader) ReadRaster(ctx context.Context, path string) (*RasterInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer f.Close()

	header := make([]byte, nitfMinHeader)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, unreadable(err, "nitf file header")
	}

	magic, version := string(header[0:4]), string(header[4:9])
	switch {
	case magic == "NITF" && version == "02.10", magic == "NSIF" && version == "01.00":
	case magic == "NITF":
		return nil, unsupported("NITF version %s", version)
	default:
		return nil, unreadable(nil, "not a NITF file")
	}

	hl, err := nitfInt(header, nitfHLOffset, 6)
	if err != nil {
		return nil, unreadable(err, "header length")
	}
	numi, err := nitfInt(header, nitfNUMIOffset, 3)
	if err != nil {
		return nil, unreadable(err, "image segment count")
	}
	if numi == 0 {
		return nil, empty("no image segments")
	}

	sub := make([]byte, nitfIGEOLOOffset+nitfIGEOLOLen)
	if _, err := f.ReadAt(sub, int64(hl)); err != nil {
		return nil, unreadable(err, "image subheader")
	}
	if string(sub[0:2]) != "IM" {
		return nil, unreadable(nil, "image subheader missing IM marker")
	}

	rows, err := nitfInt(sub, nitfNROWSOffset, 8)
	if err != nil {
		return nil, unreadable(err, "NROWS")
	}
	cols, err := nitfInt(sub, nitfNCOLSOffset, 8)
	if err != nil {
		return nil, unreadable(err, "NCOLS")
	}

	info := &RasterInfo{Width: cols, Height: rows, DataType: "NITF"}
	if title := strings.TrimSpace(string(header[nitfFTitleOffset : nitfFTitleOffset+nitfFTitleLen])); title != "" {
		info.DataType = "NITF: " + title
	}

	igeolo := string(sub[nitfIGEOLOOffset : nitfIGEOLOOffset+nitfIGEOLOLen])
	switch icords := sub[nitfICORDSOffset]; icords {
	case ' ':
		return nil, noCRS("image has no IGEOLO coordinates")
	case 'G':
		info.Corners, err = parseIGEOLO(igeolo, parseDMSCorner)
	case 'D':
		info.Corners, err = parseIGEOLO(igeolo, parseDecimalCorner)
	default:
		return nil, unsupported("ICORDS %q", icords)
	}
	if err != nil {
		return nil, unreadable(err, "IGEOLO")
	}
	info.CRS = crs.WGS84
	return info, nil
}

func nitfInt(b []byte, offset, length int) (int, error) {
	s := strings.TrimSpace(string(b[offset : offset+length]))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Newf("bad numeric field %q at %d", s, offset)
	}
	return n, nil
}

// parseIGEOLO splits the four 15-character corners, ordered upper-left,
// upper-right, lower-right, lower-left.
func parseIGEOLO(s string, corner func(string) (orb.Point, error)) ([]orb.Point, error) {
	pts := make([]orb.Point, 4)
	for i := range pts {
		p, err := corner(s[i*15 : (i+1)*15])
		if err != nil {
			return nil, errors.Wrapf(err, "corner %d", i+1)
		}
		pts[i] = p
	}
	return pts, nil
}

// parseDMSCorner parses ddmmssXdddmmssY.
func parseDMSCorner(s string) (orb.Point, error) {
	lat, err := dms(s[0:2], s[2:4], s[4:6], s[6], 'N', 'S')
	if err != nil {
		return orb.Point{}, err
	}
	lon, err := dms(s[7:10], s[10:12], s[12:14], s[14], 'E', 'W')
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{lon, lat}, nil
}

func dms(d, m, s string, hemi, pos, neg byte) (float64, error) {
	deg, err1 := strconv.Atoi(d)
	mins, err2 := strconv.Atoi(m)
	secs, err3 := strconv.Atoi(s)
	if err := errors.CombineErrors(err1, errors.CombineErrors(err2, err3)); err != nil {
		return 0, errors.Wrapf(err, "bad dms %s%s%s", d, m, s)
	}
	v := float64(deg) + float64(mins)/60 + float64(secs)/3600
	switch hemi {
	case pos:
		return v, nil
	case neg:
		return -v, nil
	}
	return 0, errors.Newf("bad hemisphere %q", hemi)
}

// parseDecimalCorner parses ±dd.ddd±ddd.ddd.
func parseDecimalCorner(s string) (orb.Point, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(s[0:7]), 64)
	if err != nil {
		return orb.Point{}, errors.Wrap(err, "latitude")
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(s[7:15]), 64)
	if err != nil {
		return orb.Point{}, errors.Wrap(err, "longitude")
	}
	return orb.Point{lon, lat}, nil
}
