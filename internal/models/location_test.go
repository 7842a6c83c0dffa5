package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocation_Valid(t *testing.T) {
	assert.True(t, Location{Lat: 90, Lon: 180}.Valid())
	assert.True(t, Location{Lat: -90, Lon: -180}.Valid())
	assert.True(t, Location{}.Valid())
	assert.False(t, Location{Lat: 90.01, Lon: 0}.Valid())
	assert.False(t, Location{Lat: 0, Lon: -180.5}.Valid())
	assert.False(t, Location{Lat: math.NaN(), Lon: 0}.Valid())
}
