package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	sanJose := Point{Latitude: 37.3382, Longitude: -121.8863}
	sanFrancisco := Point{Latitude: 37.7749, Longitude: -122.4194}

	assert.InDelta(t, 67.6, DistanceKm(sanJose, sanFrancisco), 1.0)
	assert.Equal(t, 0.0, DistanceKm(sanJose, sanJose))
	assert.InDelta(t, DistanceKm(sanJose, sanFrancisco), DistanceKm(sanFrancisco, sanJose), 1e-9)
}

func TestValid(t *testing.T) {
	assert.True(t, Point{Latitude: 10, Longitude: 20}.Valid())
	assert.False(t, Point{Latitude: 91, Longitude: 0}.Valid())
	assert.False(t, Point{Latitude: 0, Longitude: -181}.Valid())
}
