package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-proximity/internal/models"
)

const positionsSchema = `
CREATE TABLE IF NOT EXISTS vehicle_positions (
	id          TEXT PRIMARY KEY,
	vehicle_id  TEXT NOT NULL,
	route_id    TEXT NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	reported_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vehicle_positions_latest_idx
	ON vehicle_positions (vehicle_id, reported_at DESC, id DESC);
`

// ConnectPostgres opens a connection pool, retrying with a linear backoff.
func ConnectPostgres(ctx context.Context, dsn string, maxRetries int) (*pgxpool.Pool, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		pool, err := pgxpool.New(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info("Connected to PostgreSQL")
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		log.WithError(err).WithField("attempt", i+1).Warn("PostgreSQL connection attempt failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

// PostgresPositionStore keeps position reports in the vehicle_positions table.
type PostgresPositionStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresPositionStore creates the schema if needed and returns the store.
func NewPostgresPositionStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresPositionStore, error) {
	if _, err := pool.Exec(ctx, positionsSchema); err != nil {
		return nil, fmt.Errorf("create positions schema: %w", err)
	}
	return &PostgresPositionStore{pool: pool, now: time.Now}, nil
}

// Record inserts a position report.
func (s *PostgresPositionStore) Record(ctx context.Context, position models.VehiclePosition) (models.VehiclePosition, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.VehiclePosition{}, err
	}
	position.ID = id.String()
	// timestamptz carries microseconds
	position.ReportedAt = s.now().UTC().Truncate(time.Microsecond)

	const query = `
		INSERT INTO vehicle_positions (id, vehicle_id, route_id, latitude, longitude, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query,
		position.ID,
		position.VehicleID,
		position.RouteID,
		position.Location.Lat,
		position.Location.Lon,
		position.ReportedAt,
	)
	if err != nil {
		return models.VehiclePosition{}, err
	}
	return position, nil
}

// LatestFor returns the most recent report for vehicleID.
func (s *PostgresPositionStore) LatestFor(ctx context.Context, vehicleID string) (*models.VehiclePosition, error) {
	const query = `
		SELECT id, vehicle_id, route_id, latitude, longitude, reported_at
		FROM vehicle_positions
		WHERE vehicle_id = $1
		ORDER BY reported_at DESC, id DESC
		LIMIT 1
	`
	var p models.VehiclePosition
	err := s.pool.QueryRow(ctx, query, vehicleID).Scan(
		&p.ID, &p.VehicleID, &p.RouteID, &p.Location.Lat, &p.Location.Lon, &p.ReportedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	p.ReportedAt = p.ReportedAt.UTC()
	return &p, nil
}

// LatestActiveOnRoute returns the latest report per vehicle whose latest
// report names routeID.
func (s *PostgresPositionStore) LatestActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error) {
	const query = `
		SELECT id, vehicle_id, route_id, latitude, longitude, reported_at
		FROM (
			SELECT DISTINCT ON (vehicle_id) id, vehicle_id, route_id, latitude, longitude, reported_at
			FROM vehicle_positions
			ORDER BY vehicle_id, reported_at DESC, id DESC
		) latest
		WHERE route_id = $1
		ORDER BY vehicle_id
	`
	rows, err := s.pool.Query(ctx, query, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.VehiclePosition
	for rows.Next() {
		var p models.VehiclePosition
		if err := rows.Scan(&p.ID, &p.VehicleID, &p.RouteID, &p.Location.Lat, &p.Location.Lon, &p.ReportedAt); err != nil {
			return nil, err
		}
		p.ReportedAt = p.ReportedAt.UTC()
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}

// Ping checks the pool connection.
func (s *PostgresPositionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresPositionStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
