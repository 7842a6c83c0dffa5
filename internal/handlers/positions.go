package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/models"
	"github.com/ukydev/transit-proximity/internal/tracking"
)

const maxBodyBytes = 1 << 20

// Recorder stores position reports.
type Recorder interface {
	Record(ctx context.Context, report models.PositionReport) (models.VehiclePosition, error)
}

// Locator answers position queries.
type Locator interface {
	FindNearest(ctx context.Context, routeID string, query models.NearestQuery) (models.NearestVehicle, error)
	ActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error)
	LatestPosition(ctx context.Context, vehicleID string) (*models.VehiclePosition, error)
}

type errorResponse struct {
	Error  string                `json:"error"`
	Fields []tracking.FieldError `json:"fields,omitempty"`
}

// PositionHandler serves the position ingestion and lookup endpoints.
type PositionHandler struct {
	recorder Recorder
	locator  Locator
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(recorder Recorder, locator Locator) *PositionHandler {
	return &PositionHandler{recorder: recorder, locator: locator}
}

// RecordPosition handles POST /api/positions
func (h *PositionHandler) RecordPosition(w http.ResponseWriter, r *http.Request) {
	var report models.PositionReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON"})
		return
	}

	stored, err := h.recorder.Record(r.Context(), report)
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// GetLatestPosition handles GET /api/vehicles/{vehicleID}/position
func (h *PositionHandler) GetLatestPosition(w http.ResponseWriter, r *http.Request) {
	position, err := h.locator.LatestPosition(r.Context(), r.PathValue("vehicleID"))
	if err != nil {
		writeError(w, err, "Position not found")
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// FindNearestVehicle handles POST (JSON body) and GET (query string)
// /api/routes/{routeID}/nearest-vehicle
func (h *PositionHandler) FindNearestVehicle(w http.ResponseWriter, r *http.Request) {
	var query models.NearestQuery
	if r.Method == http.MethodGet {
		q, err := queryFromURL(r)
		if err != nil {
			writeError(w, err, "")
			return
		}
		query = q
	} else if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&query); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON"})
		return
	}

	nearest, err := h.locator.FindNearest(r.Context(), r.PathValue("routeID"), query)
	if err != nil {
		writeError(w, err, "No active vehicles on this route")
		return
	}
	writeJSON(w, http.StatusOK, nearest)
}

// ListRouteVehicles handles GET /api/routes/{routeID}/vehicles
func (h *PositionHandler) ListRouteVehicles(w http.ResponseWriter, r *http.Request) {
	positions, err := h.locator.ActiveOnRoute(r.Context(), r.PathValue("routeID"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	if positions == nil {
		positions = []models.VehiclePosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func queryFromURL(r *http.Request) (models.NearestQuery, error) {
	var query models.NearestQuery
	verr := &tracking.ValidationError{}
	parse := func(field string, keys ...string) *float64 {
		for _, key := range keys {
			raw := r.URL.Query().Get(key)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				verr.Fields = append(verr.Fields, tracking.FieldError{Field: field, Reason: "is invalid"})
				return nil
			}
			return &v
		}
		return nil
	}
	query.Lat = parse("lat", "lat")
	query.Lon = parse("lng", "lng", "lon")
	if len(verr.Fields) > 0 {
		return query, verr
	}
	return query, nil
}

func writeError(w http.ResponseWriter, err error, notFound string) {
	var verr *tracking.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid input", Fields: verr.Fields})
	case errors.Is(err, tracking.ErrNotFound):
		if notFound == "" {
			notFound = "Not found"
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFound})
	default:
		log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
