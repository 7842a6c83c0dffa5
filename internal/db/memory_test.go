package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/transit-proximity/internal/models"
)

func TestMemoryStore_Contract(t *testing.T) {
	runPositionStoreSuite(t, func(t *testing.T) PositionStore {
		return NewMemoryStore()
	})
}

// steppingClock returns the queued instants in order, repeating the last one.
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func TestMemoryStore_ServerAssignedTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := &steppingClock{times: []time.Time{base}}
	store := NewMemoryStore(WithClock(clock.now))

	stored, err := store.Record(context.Background(), models.VehiclePosition{
		RouteID:    "R1",
		VehicleID:  "BUS-1",
		ReportedAt: base.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, base, stored.ReportedAt)
}

func TestMemoryStore_LatestByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("clock stepping backwards keeps newer timestamp", func(t *testing.T) {
		clock := &steppingClock{times: []time.Time{base, base.Add(-time.Minute)}}
		store := NewMemoryStore(WithClock(clock.now))

		first, err := store.Record(ctx, models.VehiclePosition{RouteID: "R1", VehicleID: "BUS-1"})
		require.NoError(t, err)
		_, err = store.Record(ctx, models.VehiclePosition{RouteID: "R2", VehicleID: "BUS-1"})
		require.NoError(t, err)

		latest, err := store.LatestFor(ctx, "BUS-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, latest.ID)
		assert.Len(t, store.History("BUS-1"), 2)
	})

	t.Run("equal timestamps resolve to later arrival", func(t *testing.T) {
		clock := &steppingClock{times: []time.Time{base}}
		store := NewMemoryStore(WithClock(clock.now))

		_, err := store.Record(ctx, models.VehiclePosition{RouteID: "R1", VehicleID: "BUS-1"})
		require.NoError(t, err)
		second, err := store.Record(ctx, models.VehiclePosition{RouteID: "R2", VehicleID: "BUS-1"})
		require.NoError(t, err)

		latest, err := store.LatestFor(ctx, "BUS-1")
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)

		onRoute, err := store.LatestActiveOnRoute(ctx, "R2")
		require.NoError(t, err)
		assert.Len(t, onRoute, 1)
	})
}

func TestMemoryStore_HistoryIsAppendOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Record(ctx, models.VehiclePosition{RouteID: "R1", VehicleID: "BUS-1", Location: models.Location{Lat: float64(i)}})
		require.NoError(t, err)
	}

	history := store.History("BUS-1")
	require.Len(t, history, 3)
	for i, p := range history {
		assert.Equal(t, float64(i), p.Location.Lat)
	}

	// mutating the returned copy must not leak into the store
	history[0].Location.Lat = 99
	assert.Equal(t, 0.0, store.History("BUS-1")[0].Location.Lat)
	assert.Nil(t, store.History("unknown"))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Record(ctx, models.VehiclePosition{RouteID: "R1", VehicleID: "BUS-1"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.LatestFor(ctx, "BUS-1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.LatestActiveOnRoute(ctx, "R1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
	assert.Nil(t, store.History("BUS-1"))
}
