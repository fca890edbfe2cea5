package storage

import (
	"math"
)

const earthRadiusMeters = 6371000

// Great circle distance in meters between two points given in
// degrees.
func HaversineDistance(aLat, aLon, bLat, bLon float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(bLat - aLat)
	dLon := toRad(bLon - aLon)

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRad(aLat))*math.Cos(toRad(bLat))*math.Pow(math.Sin(dLon/2), 2)

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Seconds needed to walk between two points at the given speed in
// meters per second, rounded up.
func WalkingTime(aLat, aLon, bLat, bLon, speed float64) int {
	if speed <= 0 {
		return 0
	}
	return int(math.Ceil(HaversineDistance(aLat, aLon, bLat, bLon) / speed))
}
