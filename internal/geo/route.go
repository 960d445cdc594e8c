package geo

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidRoute is returned for routes with no geometry. Callers should
// refetch the route before retrying.
var ErrInvalidRoute = errors.New("invalid route: empty geometry")

const earthRadiusM = 6371000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Route is an ordered polyline as returned by the routing provider.
// Immutable once built; Length is computed up front so position queries
// stay allocation-free.
type Route struct {
	points  []Point
	lengthM float64
}

func NewRoute(points []Point) (*Route, error) {
	if len(points) == 0 {
		return nil, ErrInvalidRoute
	}
	r := &Route{points: points}
	for i := 1; i < len(points); i++ {
		r.lengthM += HaversineM(points[i-1], points[i])
	}
	return r, nil
}

func (r *Route) Points() []Point { return r.points }

// LengthM is the summed great-circle length of the polyline in meters.
func (r *Route) LengthM() float64 { return r.lengthM }

// PointAtDistance walks the polyline and returns the coordinate at the
// given distance from the start. Distance is clamped to [0, LengthM], so
// out-of-range queries return the first or last point.
func (r *Route) PointAtDistance(distanceM float64) Point {
	pts := r.points
	if len(pts) == 1 {
		return pts[0]
	}
	if distanceM <= 0 {
		return pts[0]
	}
	if distanceM >= r.lengthM {
		return pts[len(pts)-1]
	}

	walked := 0.0
	for i := 1; i < len(pts); i++ {
		seg := HaversineM(pts[i-1], pts[i])
		if walked+seg >= distanceM {
			ratio := 0.0
			if seg > 0 {
				ratio = (distanceM - walked) / seg
			}
			if ratio < 0 {
				ratio = 0
			}
			if ratio > 1 {
				ratio = 1
			}
			return Point{
				Lat: pts[i-1].Lat + (pts[i].Lat-pts[i-1].Lat)*ratio,
				Lon: pts[i-1].Lon + (pts[i].Lon-pts[i-1].Lon)*ratio,
			}
		}
		walked += seg
	}
	return pts[len(pts)-1]
}

// NormalizeProgress converts a participant's logical race distance into a
// distance along the physical polyline. The completion percentage is
// applied to the route length because the provider's path length rarely
// equals the nominal race distance exactly. Pure and monotonic in covered.
func NormalizeProgress(coveredLogicalM, totalLogicalM, routeLengthM float64) float64 {
	if totalLogicalM <= 0 || routeLengthM <= 0 {
		return 0
	}
	d := coveredLogicalM / totalLogicalM * routeLengthM
	if d < 0 {
		return 0
	}
	if d > routeLengthM {
		return routeLengthM
	}
	return d
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
