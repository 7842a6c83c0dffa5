package models

import (
	"encoding/json"
	"time"
)

// VehiclePosition is one immutable position report for a vehicle. The route
// is carried on the report itself, so a vehicle may move between routes over
// time.
type VehiclePosition struct {
	ID         string    `bson:"_id" json:"id"`
	RouteID    string    `bson:"route_id" json:"route_id"`
	VehicleID  string    `bson:"vehicle_id" json:"vehicle_id"`
	Location   Location  `bson:"location" json:"location"`
	ReportedAt time.Time `bson:"reported_at" json:"reported_at"`
}

// PositionReport is the inbound payload for recording a vehicle position.
// Coordinates are pointers so that a missing value is not mistaken for 0.
type PositionReport struct {
	RouteID   string   `json:"route_id" validate:"required"`
	VehicleID string   `json:"vehicle_id" validate:"required"`
	Lat       *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon       *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// UnmarshalJSON accepts "lon" as an alias of "lng".
func (r *PositionReport) UnmarshalJSON(data []byte) error {
	type plain PositionReport
	aux := struct {
		*plain
		LonAlias *float64 `json:"lon"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.Lon == nil {
		r.Lon = aux.LonAlias
	}
	return nil
}

// NearestQuery is the rider position used to look up the nearest vehicle.
type NearestQuery struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// UnmarshalJSON accepts "lon" as an alias of "lng".
func (q *NearestQuery) UnmarshalJSON(data []byte) error {
	type plain NearestQuery
	aux := struct {
		*plain
		LonAlias *float64 `json:"lon"`
	}{plain: (*plain)(q)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if q.Lon == nil {
		q.Lon = aux.LonAlias
	}
	return nil
}

// Location returns the query point. Callers must validate first.
func (q NearestQuery) Location() Location {
	return Location{Lat: *q.Lat, Lon: *q.Lon}
}

// NearestVehicle is the result of a nearest-vehicle lookup. It is computed
// fresh for every query and never stored.
type NearestVehicle struct {
	VehicleID      string    `json:"vehicle_id"`
	RouteID        string    `json:"route_id"`
	Location       Location  `json:"location"`
	ReportedAt     time.Time `json:"reported_at"`
	DistanceMeters float64   `json:"distance_meters"`
	ETASeconds     float64   `json:"eta_seconds"`
}
