package formats

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/require"
)

// Synthetic file builders shared by the reader tests.

type tiffTag struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortTag(order binary.ByteOrder, tag uint16, vals ...uint16) tiffTag {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		order.PutUint16(b[2*i:], v)
	}
	return tiffTag{tag: tag, typ: tiffShort, count: uint32(len(vals)), data: b}
}

func longTag(order binary.ByteOrder, tag uint16, vals ...uint32) tiffTag {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		order.PutUint32(b[4*i:], v)
	}
	return tiffTag{tag: tag, typ: tiffLong, count: uint32(len(vals)), data: b}
}

func doubleTag(order binary.ByteOrder, tag uint16, vals ...float64) tiffTag {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		order.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return tiffTag{tag: tag, typ: tiffDouble, count: uint32(len(vals)), data: b}
}

func asciiTag(tag uint16, s string) tiffTag {
	return tiffTag{tag: tag, typ: tiffASCII, count: uint32(len(s) + 1), data: append([]byte(s), 0)}
}

func rationalTag(order binary.ByteOrder, tag uint16, vals ...[2]uint32) tiffTag {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		order.PutUint32(b[8*i:], v[0])
		order.PutUint32(b[8*i+4:], v[1])
	}
	return tiffTag{tag: tag, typ: tiffRational, count: uint32(len(vals)), data: b}
}

// ifdSize is the encoded size of an IFD including its out-of-line data.
func ifdSize(tags []tiffTag) uint32 {
	size := uint32(2 + 12*len(tags) + 4)
	for _, t := range tags {
		if n := uint32(len(t.data)); n > 4 {
			size += n + n%2
		}
	}
	return size
}

// encodeIFD lays out a classic TIFF IFD starting at file offset off.
func encodeIFD(order binary.ByteOrder, off uint32, tags []tiffTag) []byte {
	sort.Slice(tags, func(i, j int) bool { return tags[i].tag < tags[j].tag })

	var entries, data bytes.Buffer
	dataOff := off + uint32(2+12*len(tags)+4)
	for _, t := range tags {
		e := make([]byte, 12)
		order.PutUint16(e[0:], t.tag)
		order.PutUint16(e[2:], t.typ)
		order.PutUint32(e[4:], t.count)
		if len(t.data) <= 4 {
			copy(e[8:], t.data)
		} else {
			order.PutUint32(e[8:], dataOff+uint32(data.Len()))
			data.Write(t.data)
			if data.Len()%2 == 1 {
				data.WriteByte(0)
			}
		}
		entries.Write(e)
	}

	out := make([]byte, 2)
	order.PutUint16(out, uint16(len(tags)))
	out = append(out, entries.Bytes()...)
	out = append(out, 0, 0, 0, 0)
	return append(out, data.Bytes()...)
}

func tiffHeader(order binary.ByteOrder) []byte {
	h := make([]byte, 8)
	if order == binary.ByteOrder(binary.LittleEndian) {
		copy(h, "II")
	} else {
		copy(h, "MM")
	}
	order.PutUint16(h[2:], 42)
	order.PutUint32(h[4:], 8)
	return h
}

func buildTIFF(order binary.ByteOrder, tags []tiffTag) []byte {
	return append(tiffHeader(order), encodeIFD(order, 8, tags)...)
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// geoTIFFTags describes a width x height north-up raster with its upper-left
// corner at (x, y), square pixels of size px and the given EPSG code.
func geoTIFFTags(order binary.ByteOrder, width, height uint16, x, y, px float64, epsg uint16) []tiffTag {
	tags := []tiffTag{
		shortTag(order, tagImageWidth, width),
		shortTag(order, tagImageLength, height),
		doubleTag(order, tagModelPixelScale, px, px, 0),
		doubleTag(order, tagModelTiepoint, 0, 0, 0, x, y, 0),
	}
	if epsg != 0 {
		key := uint16(3072)
		if epsg == 4326 {
			key = 2048
		}
		tags = append(tags, shortTag(order, tagGeoKeyDirectory,
			1, 1, 0, 2,
			1024, 0, 1, 1,
			key, 0, 1, epsg,
		))
	}
	return tags
}

// exifJPEG builds a minimal JPEG whose APP1 segment carries a GPS position.
func exifJPEG(lat, lon float64) []byte {
	le := binary.LittleEndian
	toDMS := func(v float64) [][2]uint32 {
		v = math.Abs(v)
		d := math.Floor(v)
		m := math.Floor((v - d) * 60)
		s := ((v-d)*60 - m) * 60
		return [][2]uint32{{uint32(d), 1}, {uint32(m), 1}, {uint32(math.Round(s * 1000)), 1000}}
	}
	latRef, lonRef := "N", "E"
	if lat < 0 {
		latRef = "S"
	}
	if lon < 0 {
		lonRef = "W"
	}

	gps := []tiffTag{
		asciiTag(0x0001, latRef),
		rationalTag(le, 0x0002, toDMS(lat)...),
		asciiTag(0x0003, lonRef),
		rationalTag(le, 0x0004, toDMS(lon)...),
	}
	ifd0 := []tiffTag{longTag(le, 0x8825, 0)}
	gpsOff := 8 + ifdSize(ifd0)
	ifd0 = []tiffTag{longTag(le, 0x8825, gpsOff)}

	tiff := tiffHeader(le)
	tiff = append(tiff, encodeIFD(le, 8, ifd0)...)
	tiff = append(tiff, encodeIFD(le, gpsOff, gps)...)
	return jpegWithAPP1(append([]byte("Exif\x00\x00"), tiff...))
}

func jpegWithAPP1(payload []byte) []byte {
	out := []byte{0xFF, 0xD8, 0xFF, 0xE1}
	size := make([]byte, 2)
	binary.BigEndian.PutUint16(size, uint16(len(payload)+2))
	out = append(out, size...)
	out = append(out, payload...)
	return append(out, 0xFF, 0xD9)
}

// nitfFile builds a NITF 2.1 file with one image segment.
func nitfFile(version, title string, rows, cols int, icords byte, igeolo string) []byte {
	header := []byte(strings.Repeat(" ", nitfMinHeader+16))
	copy(header, "NITF"+version)
	copy(header[nitfFTitleOffset:], title)
	copy(header[nitfHLOffset:], fmt.Sprintf("%06d", len(header)))
	copy(header[nitfNUMIOffset:], "001")

	sub := []byte(strings.Repeat(" ", nitfIGEOLOOffset+nitfIGEOLOLen))
	copy(sub, "IM")
	copy(sub[nitfNROWSOffset:], fmt.Sprintf("%08d", rows))
	copy(sub[nitfNCOLSOffset:], fmt.Sprintf("%08d", cols))
	sub[nitfICORDSOffset] = icords
	copy(sub[nitfIGEOLOOffset:], igeolo)
	return append(header, sub...)
}

// dtedFile builds a DTED cell whose UHL starts at offset 0.
func dtedFile(lon, lat string, intervalTenths, posts int) []byte {
	uhl := []byte(strings.Repeat(" ", dtedRecordLen))
	copy(uhl, "UHL1")
	copy(uhl[4:], lon)
	copy(uhl[12:], lat)
	copy(uhl[20:], fmt.Sprintf("%04d", intervalTenths))
	copy(uhl[24:], fmt.Sprintf("%04d", intervalTenths))
	copy(uhl[47:], fmt.Sprintf("%04d", posts))
	copy(uhl[51:], fmt.Sprintf("%04d", posts))
	return append(uhl, make([]byte, 64)...)
}

type lasVLR struct {
	user   string
	record uint16
	body   []byte
}

// lasFile builds a LAS 1.2 public header followed by the given VLRs.
func lasFile(points uint32, min, max [3]float64, vlrs ...lasVLR) []byte {
	le := binary.LittleEndian
	h := make([]byte, lasMinHeaderSize)
	copy(h, "LASF")
	h[lasVersionMajor], h[lasVersionMinor] = 1, 2
	le.PutUint16(h[lasHeaderSize:], lasMinHeaderSize)
	le.PutUint32(h[lasNumVLRs:], uint32(len(vlrs)))
	le.PutUint32(h[lasLegacyCount:], points)
	put := func(off int, v float64) { le.PutUint64(h[off:], math.Float64bits(v)) }
	put(lasMinX, min[0])
	put(lasMinY, min[1])
	put(lasMinZ, min[2])
	put(lasMaxX, max[0])
	put(lasMaxY, max[1])
	put(lasMaxZ, max[2])

	for _, v := range vlrs {
		rec := make([]byte, lasVLRHeaderSize)
		copy(rec[2:18], v.user)
		le.PutUint16(rec[18:], v.record)
		le.PutUint16(rec[20:], uint16(len(v.body)))
		h = append(h, rec...)
		h = append(h, v.body...)
	}
	le.PutUint32(h[96:], uint32(len(h)))
	return h
}

func geoKeyVLR(epsg uint16) lasVLR {
	dir := []uint16{1, 1, 0, 1, 3072, 0, 1, epsg}
	body := make([]byte, 2*len(dir))
	for i, v := range dir {
		binary.LittleEndian.PutUint16(body[2*i:], v)
	}
	return lasVLR{user: lasProjectionUser, record: lasGeoKeyRecord, body: body}
}

// gpkgBlob encodes a GeoPackage geometry blob, with an envelope when withEnvelope is set.
func gpkgBlob(t *testing.T, g orb.Geometry, srsID int32, withEnvelope bool) []byte {
	t.Helper()
	body, err := wkb.Marshal(g, binary.LittleEndian)
	require.NoError(t, err)

	le := binary.LittleEndian
	head := []byte{'G', 'P', 0, 0x01, 0, 0, 0, 0}
	le.PutUint32(head[4:], uint32(srsID))
	if withEnvelope {
		head[3] |= 1 << 1
		b := g.Bound()
		for _, v := range []float64{b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y()} {
			buf := make([]byte, 8)
			le.PutUint64(buf, math.Float64bits(v))
			head = append(head, buf...)
		}
	}
	return append(head, body...)
}

type gpkgLayer struct {
	name     string
	dataType string
	srsID    int
	geoms    []orb.Geometry
	envelope bool
	register bool
}

// createGeoPackage writes a minimal GeoPackage with the given layers.
func createGeoPackage(t *testing.T, path string, layers ...gpkgLayer) string {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT NOT NULL, srs_id INTEGER PRIMARY KEY, organization TEXT NOT NULL, organization_coordsys_id INTEGER NOT NULL, definition TEXT NOT NULL, description TEXT)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', NULL)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', NULL)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('WGS 84 geodetic', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84"]', NULL)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('WGS 84 / UTM zone 33N', 32633, 'EPSG', 32633, 'PROJCS["WGS 84 / UTM zone 33N"]', NULL)`,
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT, description TEXT DEFAULT '', last_change DATETIME, min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL, srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)`,
		`CREATE TABLE gpkg_tile_matrix_set (table_name TEXT PRIMARY KEY, srs_id INTEGER NOT NULL, min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE)`,
		`CREATE TABLE gpkg_tile_matrix (table_name TEXT NOT NULL, zoom_level INTEGER NOT NULL, matrix_width INTEGER, matrix_height INTEGER, tile_width INTEGER, tile_height INTEGER, pixel_x_size DOUBLE, pixel_y_size DOUBLE)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}

	for _, l := range layers {
		_, err := db.Exec(`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, ?, ?, ?)`,
			l.name, l.dataType, l.name, l.srsID)
		require.NoError(t, err)

		switch l.dataType {
		case "features":
			_, err = db.Exec(fmt.Sprintf(`CREATE TABLE %q (fid INTEGER PRIMARY KEY, geom BLOB)`, l.name))
			require.NoError(t, err)
			if l.register {
				_, err = db.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'GEOMETRY', ?, 0, 0)`, l.name, l.srsID)
				require.NoError(t, err)
			}
			for _, g := range l.geoms {
				_, err = db.Exec(fmt.Sprintf(`INSERT INTO %q (geom) VALUES (?)`, l.name), gpkgBlob(t, g, int32(l.srsID), l.envelope))
				require.NoError(t, err)
			}
		case "tiles":
			_, err = db.Exec(`INSERT INTO gpkg_tile_matrix_set VALUES (?, ?, 500000, 4000000, 510240, 4010240)`, l.name, l.srsID)
			require.NoError(t, err)
			_, err = db.Exec(`INSERT INTO gpkg_tile_matrix VALUES (?, 0, 1, 1, 256, 256, 40, 40), (?, 1, 2, 2, 256, 256, 20, 20)`, l.name, l.name)
			require.NoError(t, err)
		case "attributes":
			_, err = db.Exec(fmt.Sprintf(`CREATE TABLE %q (id INTEGER PRIMARY KEY, name TEXT)`, l.name))
			require.NoError(t, err)
		}
	}
	return path
}
