package crs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	wktRootName  = regexp.MustCompile(`^\s*([A-Za-z_0-9]+)\s*\[\s*"([^"]*)"`)
	wktAuthority = regexp.MustCompile(`(?i)\b(AUTHORITY|ID)\s*\[\s*"([A-Za-z]+)"\s*,\s*"?(\d+)"?`)

	utmWGS84  = regexp.MustCompile(`^wgs (?:19)?84 (?:/ )?utm zone (\d{1,2})([ns])$`)
	utmNAD83  = regexp.MustCompile(`^nad (?:19)?83 (?:/ )?utm zone (\d{1,2})n$`)
	utmETRS89 = regexp.MustCompile(`^etrs (?:19)?89 (?:/ )?utm zone (\d{1,2})n$`)
)

// esriNames maps normalized Esri .prj and EPSG names to codes for WKT that
// carries no AUTHORITY clause.
var esriNames = map[string]int{
	"gcs wgs 1984":                           4326,
	"wgs 84":                                 4326,
	"wgs84":                                  4326,
	"gcs north american 1983":                4269,
	"nad83":                                  4269,
	"gcs etrs 1989":                          4258,
	"etrs89":                                 4258,
	"gcs gda 1994":                           4283,
	"wgs 1984 web mercator auxiliary sphere": 3857,
	"wgs 84 / pseudo-mercator":               3857,
	"wgs 84 pseudo mercator":                 3857,
	"wgs 1984 world mercator":                3395,
	"wgs 84 / world mercator":                3395,
}

// ParseWKT identifies a CRS from OGC WKT1, WKT2 or Esri .prj text. The
// top-level AUTHORITY/ID wins; without one the root name is matched against
// well-known names. Unidentified WKT is returned with Name and WKT only.
func ParseWKT(wkt string) (CRS, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return CRS{}, ErrEmpty
	}

	root := wktRootName.FindStringSubmatch(wkt)
	if root == nil {
		return CRS{}, errors.Wrap(ErrUnrecognized, "not a WKT definition")
	}
	name := root[2]

	for _, loc := range wktAuthority.FindAllStringSubmatchIndex(wkt, -1) {
		if depthAt(wkt, loc[0]) != 1 {
			continue
		}
		authority := strings.ToUpper(wkt[loc[4]:loc[5]])
		code, err := strconv.Atoi(wkt[loc[6]:loc[7]])
		if err != nil || code <= 0 {
			continue
		}
		return CRS{Authority: authority, Code: code, Name: name, WKT: wkt}, nil
	}

	if code := codeForName(name); code > 0 {
		return CRS{Authority: "EPSG", Code: code, Name: name, WKT: wkt}, nil
	}

	return CRS{Name: name, WKT: wkt}, nil
}

// depthAt returns the bracket nesting depth at byte offset i.
func depthAt(s string, i int) int {
	depth := 0
	inQuote := false
	for j := 0; j < i && j < len(s); j++ {
		switch s[j] {
		case '"':
			inQuote = !inQuote
		case '[', '(':
			if !inQuote {
				depth++
			}
		case ']', ')':
			if !inQuote {
				depth--
			}
		}
	}
	return depth
}

func codeForName(name string) int {
	norm := normalizeName(name)
	if code, ok := esriNames[norm]; ok {
		return code
	}
	if m := utmWGS84.FindStringSubmatch(norm); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if zone < 1 || zone > 60 {
			return 0
		}
		if m[2] == "s" {
			return 32700 + zone
		}
		return 32600 + zone
	}
	if m := utmNAD83.FindStringSubmatch(norm); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if zone >= 1 && zone <= 23 {
			return 26900 + zone
		}
	}
	if m := utmETRS89.FindStringSubmatch(norm); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if zone >= 28 && zone <= 38 {
			return 25800 + zone
		}
	}
	return 0
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, "_", " "))
	return strings.Join(strings.Fields(name), " ")
}
