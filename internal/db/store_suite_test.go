package db

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/transit-proximity/internal/models"
)

// runPositionStoreSuite exercises the PositionStore contract against any backend.
func runPositionStoreSuite(t *testing.T, newStore func(t *testing.T) PositionStore) {
	ctx := context.Background()

	report := func(route, vehicle string, lat, lon float64) models.VehiclePosition {
		return models.VehiclePosition{RouteID: route, VehicleID: vehicle, Location: models.Location{Lat: lat, Lon: lon}}
	}

	t.Run("record assigns id and timestamp", func(t *testing.T) {
		store := newStore(t)
		stored, err := store.Record(ctx, report("R1", "BUS-1", 19.4, -99.1))
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.ReportedAt.IsZero())
		assert.Equal(t, "R1", stored.RouteID)
		assert.Equal(t, models.Location{Lat: 19.4, Lon: -99.1}, stored.Location)
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		store := newStore(t)
		_, err := store.LatestFor(ctx, "nobody")
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})

	t.Run("latest wins over earlier report", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Record(ctx, report("R1", "BUS-1", 1, 1))
		require.NoError(t, err)
		_, err = store.Record(ctx, report("R1", "BUS-2", 5, 5))
		require.NoError(t, err)
		second, err := store.Record(ctx, report("R1", "BUS-1", 2, 2))
		require.NoError(t, err)

		latest, err := store.LatestFor(ctx, "BUS-1")
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.Equal(t, models.Location{Lat: 2, Lon: 2}, latest.Location)
	})

	t.Run("empty route", func(t *testing.T) {
		store := newStore(t)
		positions, err := store.LatestActiveOnRoute(ctx, "R-empty")
		require.NoError(t, err)
		assert.Empty(t, positions)
	})

	t.Run("one entry per vehicle ordered by vehicle id", func(t *testing.T) {
		store := newStore(t)
		for _, p := range []models.VehiclePosition{
			report("R1", "BUS-3", 0, 3),
			report("R1", "BUS-1", 0, 1),
			report("R1", "BUS-1", 0, 1.5),
			report("R1", "BUS-2", 0, 2),
			report("R2", "BUS-9", 0, 9),
		} {
			_, err := store.Record(ctx, p)
			require.NoError(t, err)
		}

		positions, err := store.LatestActiveOnRoute(ctx, "R1")
		require.NoError(t, err)
		require.Len(t, positions, 3)
		assert.Equal(t, "BUS-1", positions[0].VehicleID)
		assert.Equal(t, 1.5, positions[0].Location.Lon)
		assert.Equal(t, "BUS-2", positions[1].VehicleID)
		assert.Equal(t, "BUS-3", positions[2].VehicleID)
	})

	t.Run("reassigned vehicle moves to new route", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Record(ctx, report("X", "BUS-1", 0, 0))
		require.NoError(t, err)
		_, err = store.Record(ctx, report("Y", "BUS-1", 0, 0.5))
		require.NoError(t, err)

		onX, err := store.LatestActiveOnRoute(ctx, "X")
		require.NoError(t, err)
		assert.Empty(t, onX)

		onY, err := store.LatestActiveOnRoute(ctx, "Y")
		require.NoError(t, err)
		require.Len(t, onY, 1)
		assert.Equal(t, "BUS-1", onY[0].VehicleID)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		store := newStore(t)
		const vehicles = 8
		const reports = 20

		var wg sync.WaitGroup
		for v := 0; v < vehicles; v++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				for i := 0; i < reports; i++ {
					_, err := store.Record(ctx, report("R1", fmt.Sprintf("BUS-%02d", v), 0, float64(i)))
					assert.NoError(t, err)
				}
			}(v)
		}
		wg.Wait()

		positions, err := store.LatestActiveOnRoute(ctx, "R1")
		require.NoError(t, err)
		require.Len(t, positions, vehicles)
		for _, p := range positions {
			assert.Equal(t, float64(reports-1), p.Location.Lon, p.VehicleID)
		}
	})
}
