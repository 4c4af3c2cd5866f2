package formats

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

const dtedRecordLen = 80

// DTEDReader reads the cell extent from a DTED User Header Label.
type DTEDReader struct{}

// NewDTEDReader creates a DTED reader.
func NewDTEDReader() *DTEDReader {
	return &DTEDReader{}
}

// ReadRaster reads the UHL record, skipping optional VOL and HDR labels.
func (r *DTEDReader) ReadRaster(ctx context.Context, path string) (*RasterInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer f.Close()

	uhl := make([]byte, dtedRecordLen)
	for i := 0; ; i++ {
		if _, err := io.ReadFull(f, uhl); err != nil {
			return nil, unreadable(err, "dted header")
		}
		label := string(uhl[0:3])
		if label == "UHL" {
			break
		}
		if i >= 2 || (label != "VOL" && label != "HDR") {
			return nil, unreadable(nil, "no UHL record")
		}
	}

	lon0, err := dtedAngle(string(uhl[4:12]))
	if err != nil {
		return nil, unreadable(err, "longitude origin")
	}
	lat0, err := dtedAngle(string(uhl[12:20]))
	if err != nil {
		return nil, unreadable(err, "latitude origin")
	}
	lonInterval, err1 := strconv.Atoi(strings.TrimSpace(string(uhl[20:24])))
	latInterval, err2 := strconv.Atoi(strings.TrimSpace(string(uhl[24:28])))
	lonLines, err3 := strconv.Atoi(strings.TrimSpace(string(uhl[47:51])))
	latPoints, err4 := strconv.Atoi(strings.TrimSpace(string(uhl[51:55])))
	for _, e := range []error{err1, err2, err3, err4} {
		if e != nil {
			return nil, unreadable(e, "uhl numeric field")
		}
	}
	if lonLines < 2 || latPoints < 2 {
		return nil, empty("dted cell has %dx%d posts", lonLines, latPoints)
	}

	// Intervals are tenths of arc seconds between posts.
	width := float64(lonLines-1) * float64(lonInterval) / 36000
	height := float64(latPoints-1) * float64(latInterval) / 36000

	info := &RasterInfo{
		Width:  lonLines,
		Height: latPoints,
		Corners: []orb.Point{
			{lon0, lat0 + height},
			{lon0 + width, lat0 + height},
			{lon0 + width, lat0},
			{lon0, lat0},
		},
		CRS:      crs.WGS84,
		DataType: "DTED",
	}
	if ext := strings.ToLower(filepath.Ext(path)); len(ext) == 4 && strings.HasPrefix(ext, ".dt") {
		info.DataType = "DTED Level " + ext[3:]
	}
	return info, nil
}

// dtedAngle parses dddmmssH or ddmmssH (with an optional leading zero pad).
func dtedAngle(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 7 {
		return 0, errors.Newf("short angle %q", s)
	}
	hemi := s[len(s)-1]
	digits := s[:len(s)-1]
	secs, err := strconv.Atoi(digits[len(digits)-2:])
	if err != nil {
		return 0, errors.Wrapf(err, "angle %q", s)
	}
	mins, err := strconv.Atoi(digits[len(digits)-4 : len(digits)-2])
	if err != nil {
		return 0, errors.Wrapf(err, "angle %q", s)
	}
	deg, err := strconv.Atoi(digits[:len(digits)-4])
	if err != nil {
		return 0, errors.Wrapf(err, "angle %q", s)
	}
	v := float64(deg) + float64(mins)/60 + float64(secs)/3600
	switch hemi {
	case 'N', 'E':
		return v, nil
	case 'S', 'W':
		return -v, nil
	}
	return 0, errors.Newf("bad hemisphere in %q", s)
}
