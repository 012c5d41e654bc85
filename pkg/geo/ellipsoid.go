package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// WGS84 ellipsoid parameters.
const (
	SemiMajorAxis = 6378137.0
	SemiMinorAxis = 6356752.314245179
	Flattening    = 1 / 298.257223563
)

var eccSq = Flattening * (2 - Flattening)

// Cartographic is a geodetic position with height above the ellipsoid in meters.
type Cartographic struct {
	Point
	Height float64
}

// ToECEF converts a geodetic position to earth-centred earth-fixed coordinates.
func ToECEF(c Cartographic) mgl64.Vec3 {
	lat := c.Lat * math.Pi / 180
	lon := c.Lon * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := SemiMajorAxis / math.Sqrt(1-eccSq*sinLat*sinLat)

	return mgl64.Vec3{
		(n + c.Height) * cosLat * math.Cos(lon),
		(n + c.Height) * cosLat * math.Sin(lon),
		(n*(1-eccSq) + c.Height) * sinLat,
	}
}

// FromECEF converts ECEF coordinates back to geodetic (Bowring's iteration).
func FromECEF(v mgl64.Vec3) Cartographic {
	x, y, z := v[0], v[1], v[2]
	lon := math.Atan2(y, x)
	p := math.Hypot(x, y)

	if p < 1e-9 {
		lat := math.Copysign(90, z)
		return Cartographic{Point: Point{Lat: lat, Lon: 0}, Height: math.Abs(z) - SemiMinorAxis}
	}

	lat := math.Atan2(z, p*(1-eccSq))
	var h float64
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := SemiMajorAxis / math.Sqrt(1-eccSq*sinLat*sinLat)
		h = p/math.Cos(lat) - n
		lat = math.Atan2(z, p*(1-eccSq*n/(n+h)))
	}

	return Cartographic{
		Point:  Point{Lat: lat * 180 / math.Pi, Lon: lon * 180 / math.Pi},
		Height: h,
	}
}

// ENU returns the local east, north and up unit vectors at p.
func ENU(p Point) (east, north, up mgl64.Vec3) {
	lat := p.Lat * math.Pi / 180
	lon := p.Lon * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	east = mgl64.Vec3{-sinLon, cosLon, 0}
	north = mgl64.Vec3{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up = mgl64.Vec3{cosLat * cosLon, cosLat * sinLon, sinLat}
	return east, north, up
}

// Ray is a half line in ECEF space. Direction need not be normalized.
type Ray struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// IntersectEllipsoid returns the nearest intersection of r with the WGS84 ellipsoid
// inflated by height meters. ok is false when the ray misses or points away.
func IntersectEllipsoid(r Ray, height float64) (hit mgl64.Vec3, ok bool) {
	a := SemiMajorAxis + height
	b := SemiMinorAxis + height
	if a <= 0 || b <= 0 {
		return mgl64.Vec3{}, false
	}

	// Scale into unit-sphere space.
	scale := mgl64.Vec3{1 / a, 1 / a, 1 / b}
	o := mgl64.Vec3{r.Origin[0] * scale[0], r.Origin[1] * scale[1], r.Origin[2] * scale[2]}
	d := mgl64.Vec3{r.Direction[0] * scale[0], r.Direction[1] * scale[1], r.Direction[2] * scale[2]}

	qa := d.Dot(d)
	if qa == 0 {
		return mgl64.Vec3{}, false
	}
	qb := 2 * o.Dot(d)
	qc := o.Dot(o) - 1

	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return mgl64.Vec3{}, false
	}
	sq := math.Sqrt(disc)
	t0 := (-qb - sq) / (2 * qa)
	t1 := (-qb + sq) / (2 * qa)

	t := t0
	if t < 0 {
		t = t1
	}
	if t < 0 {
		return mgl64.Vec3{}, false
	}
	return r.At(t), true
}
