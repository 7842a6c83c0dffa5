package handlers

import (
	"context"
	"net/http"

	"github.com/ukydev/transit-proximity/internal/config"
	"github.com/ukydev/transit-proximity/internal/middleware"
	"github.com/ukydev/transit-proximity/internal/stream"
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP API is built from.
type Deps struct {
	Positions *PositionHandler
	Feed      *FeedHandler
	Hub       *stream.Hub
	Store     Pinger
}

// NewRouter registers every endpoint. Rider-facing reads are rate limited
// per client IP; ingestion from vehicles is not.
func NewRouter(deps Deps, cfg config.ServerConfig) http.Handler {
	limit := middleware.NewRateLimitMiddleware().RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)
	limited := func(h http.HandlerFunc) http.Handler { return limit(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/positions", deps.Positions.RecordPosition)
	mux.HandleFunc("POST /api/ubicacion", deps.Positions.RecordPosition)
	mux.HandleFunc("GET /api/vehicles/{vehicleID}/position", deps.Positions.GetLatestPosition)
	mux.Handle("GET /api/routes/{routeID}/nearest-vehicle", limited(deps.Positions.FindNearestVehicle))
	mux.Handle("POST /api/routes/{routeID}/nearest-vehicle", limited(deps.Positions.FindNearestVehicle))
	mux.Handle("GET /api/routes/{routeID}/vehicles", limited(deps.Positions.ListRouteVehicles))
	mux.Handle("GET /api/routes/{routeID}/vehicle-positions.pb", limited(deps.Feed.VehiclePositions))
	mux.HandleFunc("GET /ws/routes/{routeID}", func(w http.ResponseWriter, r *http.Request) {
		deps.Hub.ServeRoute(w, r, r.PathValue("routeID"))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return middleware.RequestLogger(middleware.CORS(cfg.CORSAllowedOrigin)(mux))
}
