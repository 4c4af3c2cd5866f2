// Package crs identifies coordinate reference systems and reprojects geometry
// between the small set of systems the indexer can reconcile.
package crs

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrEmpty indicates an empty CRS reference.
	ErrEmpty = errors.New("empty crs reference")

	// ErrUnrecognized indicates a CRS reference that could not be parsed.
	ErrUnrecognized = errors.New("unrecognized crs reference")

	// ErrInvalidGeoKeys indicates a malformed GeoTIFF GeoKeyDirectory.
	ErrInvalidGeoKeys = errors.New("invalid geokey directory")
)

// CRS identifies a coordinate reference system. A CRS with a Code is
// reprojectable when the code is supported by a Registry; a CRS with only
// a Name or WKT is known to exist but cannot be reconciled.
type CRS struct {
	Authority string
	Code      int
	Name      string
	WKT       string
}

// WGS84 is geographic WGS 84 (EPSG:4326), the default for GeoJSON, KML and EXIF.
var WGS84 = EPSG(4326)

// EPSG returns the EPSG CRS with the given code.
func EPSG(code int) CRS {
	return CRS{Authority: "EPSG", Code: code, Name: knownName(code)}
}

// IsZero reports whether no CRS was identified at all.
func (c CRS) IsZero() bool {
	return c.Code == 0 && c.Name == "" && c.WKT == ""
}

// HasCode reports whether the CRS carries an authority code.
func (c CRS) HasCode() bool {
	return c.Authority != "" && c.Code > 0
}

// ID returns a stable identifier used to group footprints by CRS.
func (c CRS) ID() string {
	switch {
	case c.HasCode():
		return fmt.Sprintf("%s:%d", c.Authority, c.Code)
	case c.Name != "":
		return "WKT:" + c.Name
	case c.WKT != "":
		sum := sha1.Sum([]byte(c.WKT))
		return "WKT:" + hex.EncodeToString(sum[:4])
	default:
		return ""
	}
}

func (c CRS) String() string {
	if id := c.ID(); id != "" {
		return id
	}
	return "unknown"
}

// Equal compares two CRSs by identifier.
func (c CRS) Equal(other CRS) bool {
	return c.ID() == other.ID()
}

var (
	urnPattern = regexp.MustCompile(`(?i)^urn:ogc:def:crs:([a-z]+):[^:]*:(\w+)$`)
	urlPattern = regexp.MustCompile(`(?i)^https?://www\.opengis\.net/def/crs/([a-z]+)/[^/]+/(\w+)$`)
)

// Parse parses "EPSG:n", bare codes, OGC URNs and URLs, CRS84 aliases,
// "WKT:<name>" identifiers and WKT strings.
func Parse(ref string) (CRS, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return CRS{}, ErrEmpty
	}

	upper := strings.ToUpper(ref)
	if strings.HasSuffix(upper, "CRS84") {
		return WGS84, nil
	}

	if name, ok := strings.CutPrefix(ref, "WKT:"); ok && !strings.Contains(name, "[") {
		return CRS{Name: name}, nil
	}

	if code, ok := strings.CutPrefix(upper, "EPSG:"); ok {
		return parseCode("EPSG", code, ref)
	}

	if m := urnPattern.FindStringSubmatch(ref); m != nil {
		return parseCode(strings.ToUpper(m[1]), m[2], ref)
	}
	if m := urlPattern.FindStringSubmatch(ref); m != nil {
		return parseCode(strings.ToUpper(m[1]), m[2], ref)
	}

	if n, err := strconv.Atoi(ref); err == nil && n > 0 {
		return EPSG(n), nil
	}

	if strings.Contains(ref, "[") {
		return ParseWKT(ref)
	}

	return CRS{}, errors.Wrapf(ErrUnrecognized, "%q", ref)
}

func parseCode(authority, code, ref string) (CRS, error) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n <= 0 {
		return CRS{}, errors.Wrapf(ErrUnrecognized, "%q", ref)
	}
	if authority == "EPSG" {
		return EPSG(n), nil
	}
	return CRS{Authority: authority, Code: n}, nil
}

func knownName(code int) string {
	switch {
	case code == 4326:
		return "WGS 84"
	case code == 4269:
		return "NAD83"
	case code == 4258:
		return "ETRS89"
	case code == 4283:
		return "GDA94"
	case code == 3857:
		return "WGS 84 / Pseudo-Mercator"
	case code == 3395:
		return "WGS 84 / World Mercator"
	case code > 32600 && code <= 32660:
		return fmt.Sprintf("WGS 84 / UTM zone %dN", code-32600)
	case code > 32700 && code <= 32760:
		return fmt.Sprintf("WGS 84 / UTM zone %dS", code-32700)
	case code > 26900 && code <= 26923:
		return fmt.Sprintf("NAD83 / UTM zone %dN", code-26900)
	case code > 25800 && code <= 25860:
		return fmt.Sprintf("ETRS89 / UTM zone %dN", code-25800)
	}
	return ""
}
