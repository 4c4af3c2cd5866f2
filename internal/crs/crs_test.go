package crs

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for CRS identification and reprojection:
// - Parse() accepts EPSG codes, URNs, OGC URLs, CRS84 and bare integers
// - Parse() rejects empty and garbage references
// - ParseWKT() prefers the top-level AUTHORITY over nested ones
// - ParseWKT() resolves Esri .prj names without AUTHORITY clauses
// - ParseWKT() keeps unidentified WKT as a named CRS
// - ParseGeoKeys() extracts projected/geographic codes and raster type
// - Registry transforms UTM and Web Mercator points and round-trips them
// - Registry resolves grids from the wgs84 EPSG repository (Lambert-93, NAD83 UTM)
// - Registry rejects points outside a projection's latitude coverage
// - Registry reports unsupported CRSs and caches transformers
// - Reproject() never mutates its input

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  string
		want string
	}{
		{"EPSG:4326", "EPSG:4326"},
		{"epsg:32633", "EPSG:32633"},
		{"urn:ogc:def:crs:EPSG::3857", "EPSG:3857"},
		{"urn:ogc:def:crs:EPSG:6.6:26915", "EPSG:26915"},
		{"http://www.opengis.net/def/crs/EPSG/0/25832", "EPSG:25832"},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", "EPSG:4326"},
		{"4326", "EPSG:4326"},
		{"WKT:Custom Lambert", "WKT:Custom Lambert"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			c, err := Parse(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.ID())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	_, err := Parse("  ")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse("not a crs")
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = Parse("EPSG:abc")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestParseWKT_TopLevelAuthority(t *testing.T) {
	t.Parallel()

	wkt := `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],AUTHORITY["EPSG","4326"]],PROJECTION["Transverse_Mercator"],AUTHORITY["EPSG","32633"]]`

	c, err := ParseWKT(wkt)
	require.NoError(t, err)
	assert.Equal(t, 32633, c.Code)
	assert.Equal(t, "WGS 84 / UTM zone 33N", c.Name)
	assert.Equal(t, wkt, c.WKT)
}

func TestParseWKT_WKT2ID(t *testing.T) {
	t.Parallel()

	wkt := `GEOGCRS["WGS 84",DATUM["World Geodetic System 1984",ELLIPSOID["WGS 84",6378137,298.257223563]],ID["EPSG",4326]]`

	c, err := ParseWKT(wkt)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", c.ID())
}

func TestParseWKT_EsriNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wkt  string
		code int
	}{
		{`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`, 4326},
		{`PROJCS["WGS_1984_UTM_Zone_18S",GEOGCS["GCS_WGS_1984"],PROJECTION["Transverse_Mercator"]]`, 32718},
		{`PROJCS["NAD_1983_UTM_Zone_15N",GEOGCS["GCS_North_American_1983"]]`, 26915},
		{`PROJCS["ETRS_1989_UTM_Zone_32N",GEOGCS["GCS_ETRS_1989"]]`, 25832},
		{`PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984"]]`, 3857},
	}

	for _, tt := range tests {
		c, err := ParseWKT(tt.wkt)
		require.NoError(t, err)
		assert.Equal(t, tt.code, c.Code, tt.wkt)
	}
}

func TestParseWKT_Unidentified(t *testing.T) {
	t.Parallel()

	c, err := ParseWKT(`PROJCS["Local Grid",GEOGCS["GCS_Unknown"]]`)
	require.NoError(t, err)
	assert.False(t, c.HasCode())
	assert.Equal(t, "WKT:Local Grid", c.ID())

	_, err = ParseWKT("garbage")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestParseGeoKeys(t *testing.T) {
	t.Parallel()

	dir := []uint16{
		1, 1, 0, 3,
		1024, 0, 1, 1,
		1025, 0, 1, 2,
		3072, 0, 1, 32633,
	}

	keys, err := ParseGeoKeys(dir)
	require.NoError(t, err)
	assert.Equal(t, RasterPixelIsPoint, keys.RasterType)

	c, ok := keys.CRS()
	require.True(t, ok)
	assert.Equal(t, "EPSG:32633", c.ID())

	_, err = ParseGeoKeys([]uint16{1, 1, 0, 5, 1024})
	assert.ErrorIs(t, err, ErrInvalidGeoKeys)

	_, ok = GeoKeys{}.CRS()
	assert.False(t, ok)

	userDefinedKeys := GeoKeys{Projected: 32767}
	c, ok = userDefinedKeys.CRS()
	require.True(t, ok)
	assert.False(t, c.HasCode())
}

func TestRegistry_UTMRoundTrip(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(16)
	require.NoError(t, err)
	defer reg.Close()

	toUTM, err := reg.Transformer(WGS84, EPSG(32633))
	require.NoError(t, err)
	toGeo, err := reg.Transformer(EPSG(32633), WGS84)
	require.NoError(t, err)

	// Central meridian of zone 33 maps to the false easting.
	p, err := toUTM.Transform(orb.Point{15, 0})
	require.NoError(t, err)
	assert.InDelta(t, 500000, p.X(), 1e-6)
	assert.InDelta(t, 0, p.Y(), 1e-6)

	in := orb.Point{16.3738, 48.2082}
	projected, err := toUTM.Transform(in)
	require.NoError(t, err)
	back, err := toGeo.Transform(projected)
	require.NoError(t, err)
	assert.InDelta(t, in.Lon(), back.Lon(), 1e-6)
	assert.InDelta(t, in.Lat(), back.Lat(), 1e-6)
}

func TestRegistry_SouthernUTM(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(0)
	require.NoError(t, err)
	defer reg.Close()

	tr, err := reg.Transformer(WGS84, EPSG(32756))
	require.NoError(t, err)

	p, err := tr.Transform(orb.Point{153, -27.5})
	require.NoError(t, err)
	assert.InDelta(t, 500000, p.X(), 1e-6)
	assert.Less(t, p.Y(), 10000000.0)
	assert.Greater(t, p.Y(), 6000000.0)
}

func TestRegistry_Mercator(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(16)
	require.NoError(t, err)
	defer reg.Close()

	for _, code := range []int{3857, 3395} {
		fwd, err := reg.Transformer(WGS84, EPSG(code))
		require.NoError(t, err)
		inv, err := reg.Transformer(EPSG(code), WGS84)
		require.NoError(t, err)

		in := orb.Point{-73.9857, 40.7484}
		p, err := fwd.Transform(in)
		require.NoError(t, err)
		back, err := inv.Transform(p)
		require.NoError(t, err)
		assert.InDelta(t, in.Lon(), back.Lon(), 1e-6, "EPSG:%d", code)
		assert.InDelta(t, in.Lat(), back.Lat(), 1e-6, "EPSG:%d", code)
	}
}

func TestRegistry_NationalGrids(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(16)
	require.NoError(t, err)
	defer reg.Close()

	// Lambert-93 comes from the wgs84 EPSG repository.
	toLambert, err := reg.Transformer(WGS84, EPSG(2154))
	require.NoError(t, err)
	p, err := toLambert.Transform(orb.Point{2.3522, 48.8566})
	require.NoError(t, err)
	assert.InDelta(t, 652000, p.X(), 2000)
	assert.InDelta(t, 6862000, p.Y(), 2000)

	// NAD83 UTM zone 15N shares the WGS 84 zone geometry.
	nad, err := reg.Transformer(EPSG(26915), WGS84)
	require.NoError(t, err)
	ll, err := nad.Transform(orb.Point{500000, 0})
	require.NoError(t, err)
	assert.InDelta(t, -93, ll.Lon(), 1e-6)
	assert.InDelta(t, 0, ll.Lat(), 1e-6)
}

func TestRegistry_RejectsOutOfCoverage(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(16)
	require.NoError(t, err)
	defer reg.Close()

	toUTM, err := reg.Transformer(WGS84, EPSG(32633))
	require.NoError(t, err)
	_, err = toUTM.Transform(orb.Point{15, 89})
	assert.Error(t, err)

	toMercator, err := reg.Transformer(WGS84, EPSG(3395))
	require.NoError(t, err)
	_, err = toMercator.Transform(orb.Point{0, 90})
	assert.Error(t, err)

	fromGeo, err := reg.Transformer(WGS84, EPSG(3857))
	require.NoError(t, err)
	_, err = fromGeo.Transform(orb.Point{0, 120})
	assert.Error(t, err)
}

func TestRegistry_Unsupported(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(16)
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Transformer(EPSG(2056), WGS84)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = reg.Transformer(CRS{Name: "Local Grid"}, WGS84)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = reg.Transformer(EPSG(4269), WGS84)
	assert.NoError(t, err)

	// A CRS is always reconcilable with itself, even without a code.
	local := CRS{Name: "Local Grid"}
	tr, err := reg.Transformer(local, local)
	require.NoError(t, err)
	p, err := tr.Transform(orb.Point{1, 2})
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 2}, p)
}

func TestReproject_DoesNotMutate(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(16)
	require.NoError(t, err)
	defer reg.Close()

	tr, err := reg.Transformer(WGS84, EPSG(3857))
	require.NoError(t, err)

	poly := orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	out, err := Reproject(poly, tr)
	require.NoError(t, err)

	assert.Equal(t, orb.Point{1, 1}, poly[0][2])
	projected := out.(orb.Polygon)
	assert.Greater(t, projected[0][2].X(), 100000.0)
}
