package indexer

import (
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

// Family is the coarse data category that selects an extraction strategy.
type Family string

const (
	FamilyRaster     Family = "raster"
	FamilyVector     Family = "vector"
	FamilyContainer  Family = "container"
	FamilyPointCloud Family = "pointcloud"
	FamilyImage      Family = "image"

	// FamilyUnknown is used only in statistics, for candidate paths that
	// could not be classified into any family.
	FamilyUnknown Family = "unknown"
)

// ConcreteFamilies are the families that have an extractor of their own.
var ConcreteFamilies = []Family{FamilyRaster, FamilyVector, FamilyPointCloud, FamilyImage}

// AllFamilies are the families a crawl can be configured to search.
var AllFamilies = []Family{FamilyRaster, FamilyVector, FamilyContainer, FamilyPointCloud, FamilyImage}

// ParseFamily parses a family name case-insensitively.
func ParseFamily(s string) (Family, bool) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllFamilies {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// Concrete reports whether f has its own extractor (is not a container).
func (f Family) Concrete() bool {
	for _, c := range ConcreteFamilies {
		if f == c {
			return true
		}
	}
	return false
}

// AssetDescriptor identifies one extent-extraction unit: a file, or a named
// layer inside a container. Descriptors are never mutated after creation.
type AssetDescriptor struct {
	Path      string `json:"path"`
	Family    Family `json:"family"`
	Layer     string `json:"layer,omitempty"`
	Extension string `json:"extension"`
}

// ID returns the identifier used in failure mappings and feature ordering.
func (a AssetDescriptor) ID() string {
	return assetID(a.Path, a.Layer)
}

func assetID(path, layer string) string {
	if layer == "" {
		return path
	}
	return path + " | " + layer
}

// Footprint is what an Extractor returns: a geometry in its source CRS.
type Footprint struct {
	Geometry orb.Geometry
	CRS      crs.CRS
	// Valid is false when the geometry is degenerate (zero area, empty)
	// even though extraction itself succeeded.
	Valid    bool
	DataType string
}

// FootprintRecord is the successful extraction result for one asset.
// Geometry is never nil.
type FootprintRecord struct {
	Asset    AssetDescriptor
	Geometry orb.Geometry
	CRS      crs.CRS
	Valid    bool
	DataType string
	ModTime  time.Time
}

// FailureKind classifies a non-fatal per-asset failure.
type FailureKind string

const (
	FailureUnreadable         FailureKind = "Unreadable"
	FailureUnsupportedSubtype FailureKind = "UnsupportedSubtype"
	FailureMissingCRS         FailureKind = "MissingCRS"
	FailureEmptyGeometry      FailureKind = "EmptyGeometry"
	FailureEnumeration        FailureKind = "EnumerationError"
)

// FailureKinds lists every kind in report order.
var FailureKinds = []FailureKind{
	FailureUnreadable,
	FailureUnsupportedSubtype,
	FailureMissingCRS,
	FailureEmptyGeometry,
	FailureEnumeration,
}

// FailureEntry is one non-fatal failure. Entries are never mutated after
// they are appended to a ledger.
type FailureEntry struct {
	Path   string      `json:"path"`
	Layer  string      `json:"layer,omitempty"`
	Family Family      `json:"family"`
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
	Time   time.Time   `json:"time"`
}

// ID returns the identifier of the failing path or layer.
func (f FailureEntry) ID() string {
	return assetID(f.Path, f.Layer)
}

// Outcome holds exactly one of Record or Failure.
type Outcome struct {
	Record  *FootprintRecord
	Failure *FailureEntry
}

// Succeeded reports whether the outcome carries a record.
func (o Outcome) Succeeded() bool {
	return o.Record != nil
}
