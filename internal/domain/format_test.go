package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 678_900_000, time.UTC)
	assert.Equal(t, "20240102030405.67", FormatTime(ts))

	loc := time.FixedZone("PST", -8*3600)
	assert.Equal(t, "20240102030405.00", FormatTime(time.Date(2024, 1, 1, 19, 4, 5, 0, loc)))
}

func TestRoundingHelpers(t *testing.T) {
	assert.Equal(t, "35.1235", FormatCoord(35.12345))
	assert.Equal(t, "-117.5000", FormatCoord(-117.5))
	assert.Equal(t, "6.3", FormatTenths(6.25))
	assert.Equal(t, "10.0", FormatTenths(10))
	assert.Equal(t, 6.3, RoundTo(6.25, TenthsPlaces))
	assert.Equal(t, 35.1235, RoundTo(35.12345, CoordPlaces))
}

func TestProximityQuery_ContainsInclusiveBounds(t *testing.T) {
	center := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	q := ProximityQuery{CenterTime: center, Latitude: 35, Longitude: -117, Window: time.Hour, DistanceKm: 111}

	assert.InDelta(t, 1.0, q.DegreeDelta(), 1e-12)
	assert.True(t, q.Contains(center, 35, -117))
	assert.True(t, q.Contains(center.Add(time.Hour), 36, -116), "exact bounds are inside")
	assert.True(t, q.Contains(center.Add(-time.Hour), 34, -118))
	assert.False(t, q.Contains(center.Add(time.Hour+10*time.Millisecond), 35, -117))
	assert.False(t, q.Contains(center, 36.0001, -117))
	assert.False(t, q.Contains(center, 35, -115.9999))
}

func TestProximityQuery_BoundsOffGrid(t *testing.T) {
	center := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lat, lon float64
		km       float64
		inLat    float64
		inLon    float64
	}{
		{"south one degree", -63.98, 10, 111, -64.98, 10},
		{"north one degree", 12.07, -45.33, 111, 13.07, -45.33},
		{"west half degree", 0.1, 179.43, 55.5, 0.1, 178.93},
		{"east half degree", -0.7, -0.29, 55.5, -0.7, 0.21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ProximityQuery{CenterTime: center, Latitude: tt.lat, Longitude: tt.lon, Window: time.Hour, DistanceKm: tt.km}
			inLat := RoundTo(tt.inLat, CoordPlaces)
			inLon := RoundTo(tt.inLon, CoordPlaces)
			assert.True(t, q.Contains(center, inLat, inLon))
			assert.False(t, q.Contains(center, inLat+0.0001*sign(inLat-tt.lat), inLon+0.0001*sign(inLon-tt.lon)))
		})
	}
}

func TestProximityQuery_DegreeBounds(t *testing.T) {
	q := ProximityQuery{Latitude: -63.98, Longitude: 10, DistanceKm: 111}
	latMin, latMax, lonMin, lonMax := q.DegreeBounds()
	assert.Equal(t, -64.98, latMin)
	assert.Equal(t, -62.98, latMax)
	assert.Equal(t, 9.0, lonMin)
	assert.Equal(t, 11.0, lonMax)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
