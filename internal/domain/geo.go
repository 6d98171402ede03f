package domain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// MetersPerDegree is the length of one degree of latitude on the sphere orb
// uses for haversine distances.
const MetersPerDegree = orb.EarthRadius * math.Pi / 180

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b Geo) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point())
}

// Destination returns the point reached by travelling meters along bearing
// (degrees clockwise from north) from origin.
func Destination(origin Geo, bearingDegrees, meters float64) Geo {
	return GeoFromPoint(geo.PointAtBearingAndDistance(origin.Point(), bearingDegrees, meters))
}

// NormalizeBearing folds a bearing into [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 360 {
		return 0
	}
	return deg
}

// WeightedCentroid averages points on the unit sphere, so clusters that
// straddle the antimeridian or sit near a pole get a sensible center.
// Non-positive weights are ignored; with no usable weight every point counts
// equally.
func WeightedCentroid(points []Geo, weights []float64) Geo {
	if len(points) == 0 {
		return Geo{}
	}
	var x, y, z, total float64
	accumulate := func(useWeights bool) {
		for i, p := range points {
			w := 1.0
			if useWeights {
				w = weights[i]
				if w <= 0 || math.IsNaN(w) {
					continue
				}
			}
			lat := p.Lat * math.Pi / 180
			lon := p.Lon * math.Pi / 180
			x += w * math.Cos(lat) * math.Cos(lon)
			y += w * math.Cos(lat) * math.Sin(lon)
			z += w * math.Sin(lat)
			total += w
		}
	}
	accumulate(len(weights) == len(points))
	if total == 0 {
		accumulate(false)
	}

	norm := math.Sqrt(x*x + y*y + z*z)
	if norm < 1e-12 {
		// Antipodal input has no meaningful mean; fall back to the first point.
		return points[0]
	}
	lat := math.Asin(z/norm) * 180 / math.Pi
	lon := math.Atan2(y, x) * 180 / math.Pi
	return Geo{Lat: lat, Lon: lon}
}

// Centroid is WeightedCentroid with equal weights.
func Centroid(points []Geo) Geo {
	return WeightedCentroid(points, nil)
}

// MaxDistanceMeters returns the largest distance from center to any point.
func MaxDistanceMeters(center Geo, points []Geo) float64 {
	var maxDist float64
	for _, p := range points {
		if d := DistanceMeters(center, p); d > maxDist {
			maxDist = d
		}
	}
	return maxDist
}

// ValidCoordinates reports whether lat/lon are finite and in WGS84 range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
