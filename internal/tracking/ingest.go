// Package tracking implements position ingestion and nearest-vehicle lookup.
package tracking

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/db"
	"github.com/ukydev/transit-proximity/internal/models"
)

// PositionListener is notified after a position has been stored.
type PositionListener interface {
	PositionRecorded(position models.VehiclePosition)
}

// Ingestor validates position reports and appends them to the store.
type Ingestor struct {
	store     db.PositionStore
	validate  *validator.Validate
	listeners []PositionListener
}

// NewIngestor creates an Ingestor writing to store.
func NewIngestor(store db.PositionStore, listeners ...PositionListener) *Ingestor {
	return &Ingestor{
		store:     store,
		validate:  newValidator(),
		listeners: listeners,
	}
}

// Record validates report and stores it. It returns a *ValidationError for
// bad input and a *StorageError when the store fails; it never retries.
func (i *Ingestor) Record(ctx context.Context, report models.PositionReport) (models.VehiclePosition, error) {
	report.RouteID = strings.TrimSpace(report.RouteID)
	report.VehicleID = strings.TrimSpace(report.VehicleID)
	if err := validateStruct(i.validate, report); err != nil {
		return models.VehiclePosition{}, err
	}

	stored, err := i.store.Record(ctx, models.VehiclePosition{
		RouteID:   report.RouteID,
		VehicleID: report.VehicleID,
		Location:  models.Location{Lat: *report.Lat, Lon: *report.Lon},
	})
	if err != nil {
		return models.VehiclePosition{}, &StorageError{Op: "record", Err: err}
	}

	log.WithFields(log.Fields{
		"vehicle_id": stored.VehicleID,
		"route_id":   stored.RouteID,
		"lat":        stored.Location.Lat,
		"lon":        stored.Location.Lon,
	}).Debug("Recorded position")

	for _, l := range i.listeners {
		l.PositionRecorded(stored)
	}
	return stored, nil
}
