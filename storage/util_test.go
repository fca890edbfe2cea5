package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistance(t *testing.T) {
	type point struct{ lat, lon float64 }
	nyc := point{40.7, -74.1}
	philly := point{40.0, -75.2}
	sf := point{37.8, -122.5}
	sto := point{59.3, 17.9}
	rey := point{64.1, -21.9}

	for _, tc := range []struct {
		a, b   point
		meters float64
	}{
		{nyc, philly, 121438.585},
		{nyc, sf, 4127311.071},
		{nyc, sto, 6318636.281},
		{philly, rey, 4325964.058},
		{sf, sto, 8619312.141},
		{sto, rey, 2126357.273},
		{sf, sf, 0},
	} {
		assert.InDelta(t, tc.meters, HaversineDistance(tc.a.lat, tc.a.lon, tc.b.lat, tc.b.lon), 1)
		assert.InDelta(t, tc.meters, HaversineDistance(tc.b.lat, tc.b.lon, tc.a.lat, tc.a.lon), 1)
	}
}

func TestWalkingTime(t *testing.T) {
	// 0.001 degrees of latitude is about 111 meters.
	assert.Equal(t, 93, WalkingTime(40.0, -75.0, 40.001, -75.0, 1.2))
	assert.Equal(t, 0, WalkingTime(40.0, -75.0, 40.0, -75.0, 1.2))
	assert.Equal(t, 0, WalkingTime(40.0, -75.0, 40.001, -75.0, 0))
}
