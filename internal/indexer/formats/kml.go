package formats

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/geo"
)

// KMLReader computes the extent of KML documents and KMZ archives from
// their coordinate lists, gx:Track coordinates and overlay LatLonBoxes.
type KMLReader struct{}

// NewKMLReader creates a KML/KMZ reader.
func NewKMLReader() *KMLReader {
	return &KMLReader{}
}

// ReadVector reads path. KML coordinates are always EPSG:4326.
func (r *KMLReader) ReadVector(ctx context.Context, p string, opts VectorOptions) (*VectorInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if strings.EqualFold(filepath.Ext(p), ".kmz") {
		rc, err = openKMZ(p)
	} else {
		rc, err = os.Open(p)
	}
	if err != nil {
		return nil, unreadable(err, "open %s", p)
	}
	defer rc.Close()

	features, points, err := scanKML(rc)
	if err != nil {
		return nil, unreadable(err, "parse KML")
	}

	info := &VectorInfo{Features: features, CRS: crs.WGS84, DataType: "KML"}
	if strings.EqualFold(filepath.Ext(p), ".kmz") {
		info.DataType = "KMZ"
	}
	if features == 0 {
		return info, nil
	}
	if len(points) == 0 {
		return nil, empty("KML features carry no coordinates")
	}
	info.Bound = orb.MultiPoint(points).Bound()
	if opts.ConvexHull {
		info.Hull = geo.ConvexHull(points)
	}
	return info, nil
}

type kmzFile struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (k *kmzFile) Close() error {
	return errors.CombineErrors(k.ReadCloser.Close(), k.archive.Close())
}

// openKMZ opens doc.kml, or the first .kml entry, of a KMZ archive.
func openKMZ(p string) (io.ReadCloser, error) {
	archive, err := zip.OpenReader(p)
	if err != nil {
		return nil, err
	}

	var entry *zip.File
	for _, f := range archive.File {
		if !strings.EqualFold(path.Ext(f.Name), ".kml") {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), "doc.kml") {
			entry = f
			break
		}
		if entry == nil {
			entry = f
		}
	}
	if entry == nil {
		archive.Close()
		return nil, errors.New("kmz archive holds no .kml document")
	}

	rc, err := entry.Open()
	if err != nil {
		archive.Close()
		return nil, err
	}
	return &kmzFile{ReadCloser: rc, archive: archive}, nil
}

// scanKML streams the document, counting placemarks and overlays and
// collecting every coordinate it finds.
func scanKML(r io.Reader) (int, []orb.Point, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var (
		features int
		points   []orb.Point
		box      map[string]float64
		inBox    bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Placemark", "GroundOverlay", "PhotoOverlay", "ScreenOverlay":
				features++
			case "LatLonBox", "LatLonAltBox":
				inBox, box = true, map[string]float64{}
			case "coordinates":
				text, err := elementText(dec)
				if err != nil {
					return 0, nil, err
				}
				pts, err := parseKMLCoordinates(text)
				if err != nil {
					return 0, nil, err
				}
				points = append(points, pts...)
			case "coord":
				text, err := elementText(dec)
				if err != nil {
					return 0, nil, err
				}
				if p, ok := parseGxCoord(text); ok {
					points = append(points, p)
				}
			case "north", "south", "east", "west":
				if !inBox {
					continue
				}
				text, err := elementText(dec)
				if err != nil {
					return 0, nil, err
				}
				if v, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
					box[t.Name.Local] = v
				}
			}
		case xml.EndElement:
			if (t.Name.Local == "LatLonBox" || t.Name.Local == "LatLonAltBox") && inBox {
				inBox = false
				n, okN := box["north"]
				s, okS := box["south"]
				e, okE := box["east"]
				w, okW := box["west"]
				if okN && okS && okE && okW {
					points = append(points, orb.Point{w, s}, orb.Point{e, n})
				}
			}
		}
	}
	return features, points, nil
}

func elementText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return sb.String(), nil
}

// parseKMLCoordinates parses whitespace-separated lon,lat[,alt] tuples.
func parseKMLCoordinates(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	pts := make([]orb.Point, 0, len(fields))
	for _, tuple := range fields {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, errors.Newf("bad coordinate tuple %q", tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "coordinate tuple %q", tuple)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "coordinate tuple %q", tuple)
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts, nil
}

// parseGxCoord parses a space-separated "lon lat alt" gx:coord value.
func parseGxCoord(s string) (orb.Point, bool) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return orb.Point{}, false
	}
	lon, err1 := strconv.ParseFloat(fields[0], 64)
	lat, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}
