package db

import (
	"context"
	"errors"

	"github.com/ukydev/transit-proximity/internal/models"
)

// ErrPositionNotFound is returned when a vehicle has never reported.
var ErrPositionNotFound = errors.New("position not found")

// PositionStore is the append-only position history shared by the
// ingestion and lookup paths.
//
// Record assigns the report ID and ReportedAt and returns the stored
// position. The latest position of a vehicle is the one with the greatest
// ReportedAt; equal timestamps resolve to the later arrival.
// LatestActiveOnRoute returns one entry per vehicle whose latest report
// names routeID, ordered by ascending VehicleID.
type PositionStore interface {
	Record(ctx context.Context, position models.VehiclePosition) (models.VehiclePosition, error)
	LatestFor(ctx context.Context, vehicleID string) (*models.VehiclePosition, error)
	LatestActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
