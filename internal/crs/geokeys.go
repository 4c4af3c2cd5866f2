package crs

import "github.com/cockroachdb/errors"

// GeoKey identifiers used by GeoTIFF and the LAS GeoKeyDirectory VLR.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	userDefined = 32767
)

// RasterType values of GTRasterTypeGeoKey.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// GeoKeys holds the subset of a GeoKeyDirectory the indexer needs.
type GeoKeys struct {
	ModelType  int
	RasterType int
	Projected  int
	Geographic int
}

// ParseGeoKeys decodes a GeoKeyDirectory (TIFF tag 34735 / LAS record 34735).
// Keys stored outside the directory (TIFFTagLocation != 0) are ignored; the
// CRS-identifying keys are always SHORT values.
func ParseGeoKeys(dir []uint16) (GeoKeys, error) {
	var keys GeoKeys
	if len(dir) < 4 {
		return keys, errors.Wrapf(ErrInvalidGeoKeys, "header has %d entries", len(dir))
	}

	n := int(dir[3])
	if len(dir) < 4+4*n {
		return keys, errors.Wrapf(ErrInvalidGeoKeys, "directory declares %d keys but holds %d values", n, len(dir))
	}

	for i := 0; i < n; i++ {
		entry := dir[4+4*i : 8+4*i]
		id, location, value := entry[0], entry[1], int(entry[3])
		if location != 0 {
			continue
		}
		switch id {
		case keyModelType:
			keys.ModelType = value
		case keyRasterType:
			keys.RasterType = value
		case keyGeographicType:
			keys.Geographic = value
		case keyProjectedType:
			keys.Projected = value
		}
	}
	return keys, nil
}

// CRS returns the reference system the keys describe. A user-defined system
// is reported as present but unnamed by code.
func (k GeoKeys) CRS() (CRS, bool) {
	switch {
	case k.Projected > 0 && k.Projected < userDefined:
		return EPSG(k.Projected), true
	case k.Projected == userDefined:
		return CRS{Name: "user-defined projected"}, true
	case k.Geographic > 0 && k.Geographic < userDefined:
		return EPSG(k.Geographic), true
	case k.Geographic == userDefined:
		return CRS{Name: "user-defined geographic"}, true
	}
	return CRS{}, false
}
