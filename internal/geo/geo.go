// Package geo holds the spherical distance helpers shared by the track tools.
package geo

import "math"

const (
	// EarthRadius is the mean Earth radius in meters.
	EarthRadius = 6371000.0

	// MetersPerMile is the length of a statute mile.
	MetersPerMile = 1609.34
)

// HaversineDistance returns the great-circle distance in meters between two
// latitude/longitude pairs given in degrees.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLatRad := (lat2 - lat1) * math.Pi / 180
	deltaLonRad := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLonRad/2)*math.Sin(deltaLonRad/2)

	// Rounding can push a slightly past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Miles converts meters to statute miles.
func Miles(meters float64) float64 {
	return meters / MetersPerMile
}
