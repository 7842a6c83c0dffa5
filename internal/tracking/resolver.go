package tracking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ukydev/transit-proximity/internal/db"
	"github.com/ukydev/transit-proximity/internal/geo"
	"github.com/ukydev/transit-proximity/internal/models"
)

// StalenessPolicy excludes vehicles whose latest report is older than
// MaxAge. A zero MaxAge disables the check, so a vehicle stays active on
// its route until it reports elsewhere.
type StalenessPolicy struct {
	MaxAge time.Duration
}

func (p StalenessPolicy) fresh(reportedAt, now time.Time) bool {
	return p.MaxAge <= 0 || !reportedAt.Before(now.Add(-p.MaxAge))
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStaleness sets the staleness policy.
func WithStaleness(policy StalenessPolicy) ResolverOption {
	return func(r *Resolver) {
		r.staleness = policy
	}
}

// WithResolverClock overrides the clock used by the staleness policy.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver finds the nearest active vehicle on a route.
type Resolver struct {
	store     db.PositionStore
	speed     float64
	staleness StalenessPolicy
	now       func() time.Time
	validate  *validator.Validate
}

// NewResolver creates a Resolver estimating arrival at speedMetersPerSecond.
// An unusable speed is rejected here so it fails at startup.
func NewResolver(store db.PositionStore, speedMetersPerSecond float64, opts ...ResolverOption) (*Resolver, error) {
	if err := geo.ValidateSpeed(speedMetersPerSecond); err != nil {
		return nil, err
	}
	r := &Resolver{
		store:    store,
		speed:    speedMetersPerSecond,
		now:      time.Now,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FindNearest returns the active vehicle on routeID closest to the query
// point. Candidates are scanned in the store's vehicle id order and only a
// strictly smaller distance replaces the current best, so ties go to the
// first vehicle id.
func (r *Resolver) FindNearest(ctx context.Context, routeID string, query models.NearestQuery) (models.NearestVehicle, error) {
	routeID = strings.TrimSpace(routeID)
	verr := &ValidationError{}
	if routeID == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "route_id", Reason: "is required"})
	}
	if err := validateStruct(r.validate, query); err != nil {
		var qerr *ValidationError
		if !errors.As(err, &qerr) {
			return models.NearestVehicle{}, err
		}
		verr.Fields = append(verr.Fields, qerr.Fields...)
	}
	if len(verr.Fields) > 0 {
		return models.NearestVehicle{}, verr
	}

	candidates, err := r.store.LatestActiveOnRoute(ctx, routeID)
	if err != nil {
		return models.NearestVehicle{}, &StorageError{Op: "latest active on route", Err: err}
	}

	origin := query.Location()
	now := r.now()
	var best *models.VehiclePosition
	bestDistance := 0.0
	for i := range candidates {
		c := &candidates[i]
		if !r.staleness.fresh(c.ReportedAt, now) {
			continue
		}
		d := geo.DistanceMeters(origin, c.Location)
		if best == nil || d < bestDistance {
			best = c
			bestDistance = d
		}
	}
	if best == nil {
		return models.NearestVehicle{}, ErrNotFound
	}

	return models.NearestVehicle{
		VehicleID:      best.VehicleID,
		RouteID:        best.RouteID,
		Location:       best.Location,
		ReportedAt:     best.ReportedAt,
		DistanceMeters: bestDistance,
		ETASeconds:     geo.ETASeconds(bestDistance, r.speed),
	}, nil
}

// ActiveOnRoute returns the latest position of every active vehicle on routeID.
func (r *Resolver) ActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error) {
	routeID = strings.TrimSpace(routeID)
	if routeID == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "route_id", Reason: "is required"}}}
	}
	candidates, err := r.store.LatestActiveOnRoute(ctx, routeID)
	if err != nil {
		return nil, &StorageError{Op: "latest active on route", Err: err}
	}
	now := r.now()
	active := make([]models.VehiclePosition, 0, len(candidates))
	for _, c := range candidates {
		if r.staleness.fresh(c.ReportedAt, now) {
			active = append(active, c)
		}
	}
	return active, nil
}

// LatestPosition returns the most recent report of vehicleID.
func (r *Resolver) LatestPosition(ctx context.Context, vehicleID string) (*models.VehiclePosition, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "vehicle_id", Reason: "is required"}}}
	}
	position, err := r.store.LatestFor(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, db.ErrPositionNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "latest for vehicle", Err: err}
	}
	return position, nil
}
