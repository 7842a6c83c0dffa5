package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/transit-proximity/internal/models"
)

// MemoryStore keeps the full position history in process memory. Each
// vehicle has its own lock, so reports from different vehicles never
// contend with each other. Data does not survive a restart.
type MemoryStore struct {
	vehicles sync.Map // vehicle id -> *vehicleHistory
	now      func() time.Time
}

type vehicleHistory struct {
	mu      sync.RWMutex
	entries []models.VehiclePosition
	latest  int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used to stamp reports.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory position store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a position to the vehicle's history.
func (s *MemoryStore) Record(ctx context.Context, position models.VehiclePosition) (models.VehiclePosition, error) {
	if err := ctx.Err(); err != nil {
		return models.VehiclePosition{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return models.VehiclePosition{}, err
	}

	v, _ := s.vehicles.LoadOrStore(position.VehicleID, &vehicleHistory{})
	h := v.(*vehicleHistory)

	h.mu.Lock()
	defer h.mu.Unlock()

	position.ID = id.String()
	position.ReportedAt = s.now().UTC()
	h.entries = append(h.entries, position)
	last := len(h.entries) - 1
	if !position.ReportedAt.Before(h.entries[h.latest].ReportedAt) {
		h.latest = last
	}
	return position, nil
}

// LatestFor returns the most recent report for vehicleID.
func (s *MemoryStore) LatestFor(ctx context.Context, vehicleID string) (*models.VehiclePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.vehicles.Load(vehicleID)
	if !ok {
		return nil, ErrPositionNotFound
	}
	h := v.(*vehicleHistory)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return nil, ErrPositionNotFound
	}
	latest := h.entries[h.latest]
	return &latest, nil
}

// LatestActiveOnRoute returns the latest report of every vehicle currently on routeID.
func (s *MemoryStore) LatestActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var active []models.VehiclePosition
	s.vehicles.Range(func(_, v any) bool {
		h := v.(*vehicleHistory)
		h.mu.RLock()
		if len(h.entries) > 0 && h.entries[h.latest].RouteID == routeID {
			active = append(active, h.entries[h.latest])
		}
		h.mu.RUnlock()
		return true
	})
	sort.Slice(active, func(i, j int) bool {
		return active[i].VehicleID < active[j].VehicleID
	})
	return active, nil
}

// History returns a copy of every report recorded for vehicleID in arrival order.
func (s *MemoryStore) History(vehicleID string) []models.VehiclePosition {
	v, ok := s.vehicles.Load(vehicleID)
	if !ok {
		return nil
	}
	h := v.(*vehicleHistory)
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.VehiclePosition, len(h.entries))
	copy(out, h.entries)
	return out
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
