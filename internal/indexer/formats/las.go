package formats

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

// LAS public header block offsets.
const (
	lasVersionMajor   = 24
	lasVersionMinor   = 25
	lasHeaderSize     = 94
	lasNumVLRs        = 100
	lasLegacyCount    = 107
	lasMaxX           = 179
	lasMinX           = 187
	lasMaxY           = 195
	lasMinY           = 203
	lasMaxZ           = 211
	lasMinZ           = 219
	lasExtendedCount  = 247
	lasMinHeaderSize  = 227
	lasHeader14Size   = 375
	lasVLRHeaderSize  = 54
	lasProjectionUser = "LASF_Projection"
	lasGeoKeyRecord   = 34735
	lasWKTRecord      = 2112
	lasMaxVLRsScanned = 64
	lasMaxVLRBytes    = 1 << 20
)

// LASReader reads point cloud bounds from the LAS/LAZ public header block
// and the spatial reference from LASF_Projection records. No points are read.
type LASReader struct{}

// NewLASReader creates a LAS/LAZ reader.
func NewLASReader() *LASReader {
	return &LASReader{}
}

// ReadPointCloud reads the header of path.
func (r *LASReader) ReadPointCloud(ctx context.Context, path string) (*PointCloudInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(err, "open %s", path)
	}
	defer f.Close()

	head := make([]byte, lasHeader14Size)
	n, err := io.ReadFull(f, head)
	if n < lasMinHeaderSize {
		return nil, unreadable(errOrEOF(err), "truncated LAS header")
	}
	head = head[:n]
	if string(head[0:4]) != "LASF" {
		return nil, unreadable(nil, "missing LASF signature")
	}

	le := binary.LittleEndian
	major, minor := head[lasVersionMajor], head[lasVersionMinor]
	headerSize := int(le.Uint16(head[lasHeaderSize:]))
	if headerSize < lasMinHeaderSize {
		return nil, unreadable(nil, "header size %d too small", headerSize)
	}

	info := &PointCloudInfo{
		Points: uint64(le.Uint32(head[lasLegacyCount:])),
		Min: [3]float64{
			lasFloat(head, lasMinX), lasFloat(head, lasMinY), lasFloat(head, lasMinZ),
		},
		Max: [3]float64{
			lasFloat(head, lasMaxX), lasFloat(head, lasMaxY), lasFloat(head, lasMaxZ),
		},
		DataType: fmt.Sprintf("LAS %d.%d", major, minor),
	}
	if strings.EqualFold(filepath.Ext(path), ".laz") {
		info.DataType = fmt.Sprintf("LAZ %d.%d", major, minor)
	}
	if major == 1 && minor >= 4 && n >= lasExtendedCount+8 && headerSize >= lasExtendedCount+8 {
		if ext := le.Uint64(head[lasExtendedCount:]); ext > 0 {
			info.Points = ext
		}
	}

	for i := 0; i < 3; i++ {
		if math.IsNaN(info.Min[i]) || math.IsNaN(info.Max[i]) {
			return nil, unreadable(nil, "header bounds are not numbers")
		}
	}
	if info.Points == 0 {
		return nil, empty("point cloud holds no points")
	}
	if info.Min[0] > info.Max[0] || info.Min[1] > info.Max[1] {
		return nil, empty("header bounds are inverted")
	}

	c, err := lasCRS(f, int64(headerSize), le.Uint32(head[lasNumVLRs:]))
	if err != nil {
		return nil, err
	}
	if c.IsZero() {
		return nil, noCRS("no LASF_Projection record")
	}
	info.CRS = c
	return info, nil
}

func lasFloat(b []byte, offset int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[offset:]))
}

// lasCRS scans the variable length records following the header for a
// GeoKeyDirectory or OGC WKT projection record. WKT wins when both exist.
func lasCRS(r io.ReaderAt, offset int64, count uint32) (crs.CRS, error) {
	if count > lasMaxVLRsScanned {
		count = lasMaxVLRsScanned
	}

	var fromKeys crs.CRS
	hdr := make([]byte, lasVLRHeaderSize)
	for i := uint32(0); i < count; i++ {
		if _, err := r.ReadAt(hdr, offset); err != nil {
			return crs.CRS{}, unreadable(err, "vlr %d header", i)
		}
		user := strings.TrimRight(string(hdr[2:18]), "\x00 ")
		record := binary.LittleEndian.Uint16(hdr[18:20])
		length := int64(binary.LittleEndian.Uint16(hdr[20:22]))
		body := offset + lasVLRHeaderSize
		offset = body + length

		if user != lasProjectionUser || length > lasMaxVLRBytes {
			continue
		}
		data := make([]byte, length)
		if _, err := r.ReadAt(data, body); err != nil {
			return crs.CRS{}, unreadable(err, "vlr %d body", i)
		}

		switch record {
		case lasWKTRecord:
			wkt := strings.TrimRight(string(data), "\x00 ")
			if c, err := crs.ParseWKT(wkt); err == nil {
				return c, nil
			}
		case lasGeoKeyRecord:
			dir := make([]uint16, len(data)/2)
			for j := range dir {
				dir[j] = binary.LittleEndian.Uint16(data[2*j:])
			}
			keys, err := crs.ParseGeoKeys(dir)
			if err != nil {
				return crs.CRS{}, unreadable(err, "geokey record")
			}
			if c, ok := keys.CRS(); ok {
				fromKeys = c
			}
		}
	}
	return fromKeys, nil
}
