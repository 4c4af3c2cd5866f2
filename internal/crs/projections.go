package crs

import (
	"math"

	"github.com/wroge/wgs84"
)

// systems resolves EPSG codes to wgs84 reference systems. The stock
// repository is extended with codes the indexer meets in the wild, and its
// UTM zones are replaced with transverseMercator below: the stock inverse
// raises the meridional radius to 3/2 with integer division, which puts
// inverse results metres off.
var systems = newSystems()

func newSystems() *wgs84.Repository {
	repo := wgs84.EPSG()

	// Datum differences between these and WGS 84 are below the precision of
	// an extent footprint.
	for _, code := range []int{4283, 4979, 4230} {
		repo.Add(code, wgs84.LonLat())
	}
	repo.Add(102100, wgs84.WebMercator())
	repo.Add(3395, wgs84.ProjectedReferenceSystem{Datum: wgs84.WGS84(), Projection: worldMercator{}})

	for zone := 1; zone <= 60; zone++ {
		repo.Add(32600+zone, utmZone(wgs84.WGS84(), zone, false))
		repo.Add(32700+zone, utmZone(wgs84.WGS84(), zone, true))
		repo.Add(25800+zone, utmZone(wgs84.ETRS89(), zone, false))
	}
	for zone := 1; zone <= 23; zone++ {
		repo.Add(26900+zone, utmZone(wgs84.NAD83(), zone, false))
	}
	return repo
}

func utmZone(datum wgs84.Datum, zone int, south bool) wgs84.ProjectedReferenceSystem {
	tm := transverseMercator{
		lon0:      float64(zone*6 - 183),
		scale:     0.9996,
		eastf:     500000,
		maxLatDeg: 84.5,
	}
	if south {
		tm.northf = 10000000
	}
	return wgs84.ProjectedReferenceSystem{Datum: datum, Projection: tm}
}

// latitudeBound is implemented by projections that diverge near the poles.
type latitudeBound interface {
	covers(lat float64) bool
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

type ellipsoid struct {
	a, e2 float64
}

func ellipsoidOf(s wgs84.Spheroid) ellipsoid {
	f := 1 / s.Fi()
	return ellipsoid{a: s.A(), e2: f * (2 - f)}
}

// worldMercator is the ellipsoidal Mercator of EPSG:3395.
type worldMercator struct{}

func (worldMercator) covers(lat float64) bool { return math.Abs(lat) < 89.9 }

func (worldMercator) FromLonLat(lon, lat float64, s wgs84.Spheroid) (east, north float64) {
	el := ellipsoidOf(s)
	ecc := math.Sqrt(el.e2)
	phi := deg2rad(lat)
	es := ecc * math.Sin(phi)
	east = el.a * deg2rad(lon)
	north = el.a * math.Log(math.Tan(math.Pi/4+phi/2)*math.Pow((1-es)/(1+es), ecc/2))
	return east, north
}

func (worldMercator) ToLonLat(east, north float64, s wgs84.Spheroid) (lon, lat float64) {
	el := ellipsoidOf(s)
	ecc := math.Sqrt(el.e2)
	t := math.Exp(-north / el.a)
	phi := math.Pi/2 - 2*math.Atan(t)
	for range 15 {
		es := ecc * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), ecc/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	return rad2deg(east / el.a), rad2deg(phi)
}

// transverseMercator uses the series expansions in Snyder, "Map Projections:
// A Working Manual" (USGS PP 1395), pp. 60-64, with the origin on the equator.
type transverseMercator struct {
	lon0, scale, eastf, northf float64
	maxLatDeg                  float64
}

func (p transverseMercator) covers(lat float64) bool { return math.Abs(lat) <= p.maxLatDeg }

func (el ellipsoid) meridionalArc(phi float64) float64 {
	e2 := el.e2
	e4 := e2 * e2
	e6 := e4 * e2
	return el.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (p transverseMercator) FromLonLat(lon, lat float64, s wgs84.Spheroid) (east, north float64) {
	el := ellipsoidOf(s)
	ep2 := el.e2 / (1 - el.e2)
	phi := deg2rad(lat)

	sinPhi, cosPhi := math.Sin(phi), math.Cos(phi)
	n := el.a / math.Sqrt(1-el.e2*sinPhi*sinPhi)
	t := math.Tan(phi) * math.Tan(phi)
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * deg2rad(lon-p.lon0)
	m := el.meridionalArc(phi)

	east = p.scale*n*(a+(1-t+c)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + p.eastf
	north = p.scale*(m+n*math.Tan(phi)*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720)) + p.northf
	return east, north
}

func (p transverseMercator) ToLonLat(east, north float64, s wgs84.Spheroid) (lon, lat float64) {
	el := ellipsoidOf(s)
	e2 := el.e2
	ep2 := e2 / (1 - e2)
	x := east - p.eastf
	m := (north - p.northf) / p.scale

	e4 := e2 * e2
	e6 := e4 * e2
	mu := m / (el.a * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	phi1 := mu + (3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin1, cos1 := math.Sin(phi1), math.Cos(phi1)
	c1 := ep2 * cos1 * cos1
	t1 := math.Tan(phi1) * math.Tan(phi1)
	n1 := el.a / math.Sqrt(1-e2*sin1*sin1)
	r1 := el.a * (1 - e2) / math.Pow(1-e2*sin1*sin1, 1.5)
	d := x / (n1 * p.scale)

	phi := phi1 - (n1*math.Tan(phi1)/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lambda := deg2rad(p.lon0) + (d-(1+2*t1+c1)*math.Pow(d, 3)/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cos1

	return rad2deg(lambda), rad2deg(phi)
}
