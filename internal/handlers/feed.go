package handlers

import (
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/models"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// FeedHandler publishes the active vehicles of a route as a GTFS-Realtime
// VehiclePositions feed.
type FeedHandler struct {
	locator Locator
	now     func() time.Time
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(locator Locator) *FeedHandler {
	return &FeedHandler{locator: locator, now: time.Now}
}

// VehiclePositions handles GET /api/routes/{routeID}/vehicle-positions.pb
func (h *FeedHandler) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.locator.ActiveOnRoute(r.Context(), r.PathValue("routeID"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	feed := buildVehicleFeed(positions, h.now())

	var (
		data        []byte
		contentType string
	)
	if r.URL.Query().Get("format") == "json" {
		data, err = protojson.Marshal(feed)
		contentType = "application/json"
	} else {
		data, err = proto.Marshal(feed)
		contentType = "application/x-protobuf"
	}
	if err != nil {
		writeError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.WithError(err).Warn("Failed to write feed")
	}
}

func buildVehicleFeed(positions []models.VehiclePosition, now time.Time) *gtfs.FeedMessage {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(positions)),
	}
	for _, p := range positions {
		if !p.Location.Valid() {
			log.WithField("vehicle_id", p.VehicleID).Warn("Skipping vehicle with invalid position in feed")
			continue
		}
		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id: proto.String(p.VehicleID),
			Vehicle: &gtfs.VehiclePosition{
				Trip:    &gtfs.TripDescriptor{RouteId: proto.String(p.RouteID)},
				Vehicle: &gtfs.VehicleDescriptor{Id: proto.String(p.VehicleID)},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(float32(p.Location.Lat)),
					Longitude: proto.Float32(float32(p.Location.Lon)),
				},
				Timestamp: proto.Uint64(uint64(p.ReportedAt.Unix())),
			},
		})
	}
	return feed
}
