package indexer

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/crs"
	"github.com/mvp-joe/geoindexer/internal/geo"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

// Derivation names an aggregate geometry kind.
type Derivation string

const (
	// DerivationUnion is the dissolved union of all valid polygonal footprints.
	DerivationUnion Derivation = "union"
	// DerivationCentroids is one point per valid footprint.
	DerivationCentroids Derivation = "centroids"
	// DerivationUnionCentroid is the single centroid of the union.
	DerivationUnionCentroid Derivation = "union_centroid"
)

// AllDerivations lists every derivation kind in output order.
var AllDerivations = []Derivation{DerivationUnion, DerivationCentroids, DerivationUnionCentroid}

// ParseDerivation validates a derivation name.
func ParseDerivation(s string) (Derivation, bool) {
	for _, d := range AllDerivations {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// Feature property keys.
const (
	PropUID        = "uid"
	PropDataType   = "dataType"
	PropFamily     = "family"
	PropFileName   = "fname"
	PropPath       = "path"
	PropLayer      = "layer"
	PropNativeCRS  = "native_crs"
	PropCRS        = "crs"
	PropValid      = "valid"
	PropLastMod    = "lastmod"
	PropScaleLevel = "scale_level"
)

// Transformers supplies CRS transformers; *crs.Registry implements it.
type Transformers interface {
	Transformer(from, to crs.CRS) (crs.Transformer, error)
}

// Aggregate is one derived geometry, tagged by kind, in the target CRS.
type Aggregate struct {
	Kind     Derivation
	Geometry orb.Geometry
	CRS      crs.CRS
	// Sources is the number of features that contributed.
	Sources int
}

// Derived is the output of Derive.
type Derived struct {
	Target     crs.CRS
	Aggregates []Aggregate
	// Unreconciled lists the uids of valid features that could not be
	// transformed into the target CRS.
	Unreconciled []string
}

// Get returns the aggregate of the given kind.
func (d *Derived) Get(kind Derivation) (Aggregate, bool) {
	for _, a := range d.Aggregates {
		if a.Kind == kind {
			return a, true
		}
	}
	return Aggregate{}, false
}

// CoverageResult holds the per-asset features in their native CRS and the
// aggregates derived from them. Every feature traces back to exactly one
// FootprintRecord.
type CoverageResult struct {
	Features *geojson.FeatureCollection
	// Groups maps a CRS identifier to the asset identifiers in that CRS.
	Groups map[string][]string
	Derived
}

// Aggregator merges footprint records into a CoverageResult.
type Aggregator struct {
	transformers Transformers
	target       crs.CRS
	derivations  []Derivation
	logger       *zap.SugaredLogger
}

// NewAggregator creates an aggregator. A zero target selects the CRS of the
// first valid feature; empty derivations select all kinds.
func NewAggregator(t Transformers, target crs.CRS, derivations []Derivation, logger *zap.SugaredLogger) *Aggregator {
	if len(derivations) == 0 {
		derivations = AllDerivations
	}
	return &Aggregator{transformers: t, target: target, derivations: derivations, logger: logging.OrNop(logger)}
}

// Aggregate builds the feature collection from records and derives the
// aggregates from that collection. Records are never modified.
func (a *Aggregator) Aggregate(records []FootprintRecord) *CoverageResult {
	sorted := make([]FootprintRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Asset.ID() < sorted[j].Asset.ID() })

	fc := geojson.NewFeatureCollection()
	groups := make(map[string][]string)
	for _, r := range sorted {
		fc.Append(a.feature(r))
		id := r.CRS.ID()
		groups[id] = append(groups[id], r.Asset.ID())
	}

	return &CoverageResult{
		Features: fc,
		Groups:   groups,
		Derived:  *a.Derive(fc),
	}
}

func (a *Aggregator) feature(r FootprintRecord) *geojson.Feature {
	f := geojson.NewFeature(orb.Clone(r.Geometry))
	f.Properties[PropUID] = FeatureUID(r.Asset)
	f.Properties[PropDataType] = r.DataType
	f.Properties[PropFamily] = string(r.Asset.Family)
	f.Properties[PropFileName] = filepath.Base(r.Asset.Path)
	f.Properties[PropPath] = "file://" + filepath.ToSlash(filepath.Dir(r.Asset.Path))
	f.Properties[PropLayer] = r.Asset.Layer
	f.Properties[PropCRS] = r.CRS.ID()
	f.Properties[PropNativeCRS] = r.CRS.String()
	if r.CRS.Name != "" {
		f.Properties[PropNativeCRS] = r.CRS.Name
	}
	f.Properties[PropValid] = r.Valid
	if !r.ModTime.IsZero() {
		f.Properties[PropLastMod] = r.ModTime.UTC().Format(time.RFC3339)
	}
	if r.Valid {
		if level, ok := a.scaleLevel(r.Geometry, r.CRS); ok {
			f.Properties[PropScaleLevel] = level
		}
	}
	return f
}

func (a *Aggregator) scaleLevel(g orb.Geometry, c crs.CRS) (string, bool) {
	t, err := a.transformers.Transformer(c, crs.WGS84)
	if err != nil {
		return "", false
	}
	wgs, err := crs.Reproject(g, t)
	if err != nil {
		return "", false
	}
	return geo.ScaleLevel(wgs), true
}

// FeatureUID is a stable identifier for an asset, equal across runs.
func FeatureUID(a AssetDescriptor) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(a.ID())).String()
}

// Derive computes the aggregate geometries from a feature collection alone,
// so aggregates can always be recomputed from retained features. Invalid
// features are skipped. Features are reprojected into the target CRS on
// copies; the collection is not modified. Without a configured target, the
// CRS of the first valid feature that can be reprojected is used; only when
// none can is the first feature's CRS taken as is.
func (a *Aggregator) Derive(fc *geojson.FeatureCollection) *Derived {
	out := &Derived{}
	var valid []*geojson.Feature
	for _, f := range fc.Features {
		if f.Geometry != nil && f.Properties.MustBool(PropValid, false) {
			valid = append(valid, f)
		}
	}
	if len(valid) == 0 {
		return out
	}

	out.Target = a.target
	if out.Target.IsZero() {
		out.Target = a.defaultTarget(valid)
	}

	var polys []orb.Polygon
	var centroids orb.MultiPoint
	for _, f := range valid {
		g, err := a.toTarget(f, out.Target)
		if err != nil {
			uid := f.Properties.MustString(PropUID, "")
			a.logger.Debugw("Footprint not reconciled", "uid", uid, PropCRS, featureCRS(f).ID(), logging.FieldError, err)
			out.Unreconciled = append(out.Unreconciled, uid)
			continue
		}
		switch v := g.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		}
		centroids = append(centroids, geo.Centroid(g))
	}

	union := geo.Union(polys)
	for _, kind := range a.derivations {
		switch kind {
		case DerivationUnion:
			if len(union) > 0 {
				out.Aggregates = append(out.Aggregates, Aggregate{Kind: kind, Geometry: union, CRS: out.Target, Sources: len(polys)})
			}
		case DerivationCentroids:
			if len(centroids) > 0 {
				out.Aggregates = append(out.Aggregates, Aggregate{Kind: kind, Geometry: centroids, CRS: out.Target, Sources: len(centroids)})
			}
		case DerivationUnionCentroid:
			if len(union) > 0 {
				out.Aggregates = append(out.Aggregates, Aggregate{Kind: kind, Geometry: geo.Centroid(union), CRS: out.Target, Sources: len(polys)})
			}
		}
	}
	return out
}

func (a *Aggregator) defaultTarget(valid []*geojson.Feature) crs.CRS {
	for _, f := range valid {
		c := featureCRS(f)
		if _, err := a.transformers.Transformer(c, crs.WGS84); err == nil {
			return c
		}
	}
	return featureCRS(valid[0])
}

func (a *Aggregator) toTarget(f *geojson.Feature, target crs.CRS) (orb.Geometry, error) {
	t, err := a.transformers.Transformer(featureCRS(f), target)
	if err != nil {
		return nil, err
	}
	return crs.Reproject(f.Geometry, t)
}

func featureCRS(f *geojson.Feature) crs.CRS {
	c, err := crs.Parse(f.Properties.MustString(PropCRS, ""))
	if err != nil {
		return crs.CRS{}
	}
	return c
}
