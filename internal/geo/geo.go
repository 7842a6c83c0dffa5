// Package geo holds the distance and arrival-time model used to rank vehicles.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ukydev/transit-proximity/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// DefaultAverageSpeedMetersPerSecond is the constant average vehicle speed
// (30 km/h) used for arrival estimates.
const DefaultAverageSpeedMetersPerSecond = 30 * 1000.0 / 3600.0

var ErrInvalidSpeed = errors.New("average speed must be a positive finite number")

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b models.Location) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h a hair above 1 for antipodal points
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// ETASeconds returns the time needed to cover distanceMeters at speed.
// speed is expected to have passed ValidateSpeed.
func ETASeconds(distanceMeters, speedMetersPerSecond float64) float64 {
	if distanceMeters == 0 {
		return 0
	}
	return distanceMeters / speedMetersPerSecond
}

// ValidateSpeed rejects speeds that cannot produce an arrival estimate.
func ValidateSpeed(speedMetersPerSecond float64) error {
	if math.IsNaN(speedMetersPerSecond) || math.IsInf(speedMetersPerSecond, 0) || speedMetersPerSecond <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSpeed, speedMetersPerSecond)
	}
	return nil
}

// KmhToMetersPerSecond converts a speed in km/h to m/s.
func KmhToMetersPerSecond(kmh float64) float64 {
	return kmh * 1000 / 3600
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
