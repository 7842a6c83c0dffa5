package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/transit-proximity/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PositionsCollection is the collection holding position reports.
const PositionsCollection = "positions"

// ConnectMongo connects to MongoDB at uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoPositionStore stores position reports in a MongoDB collection.
type MongoPositionStore struct {
	Collection *mongo.Collection
	client     *mongo.Client
	now        func() time.Time
}

// NewMongoPositionStore opens the positions collection of database dbName
// and ensures the (vehicle_id, reported_at) index exists.
func NewMongoPositionStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoPositionStore, error) {
	coll := client.Database(dbName).Collection(PositionsCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "vehicle_id", Value: 1}, {Key: "reported_at", Value: -1}}},
		{Keys: bson.D{{Key: "route_id", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create position indexes: %w", err)
	}
	return &MongoPositionStore{Collection: coll, client: client, now: time.Now}, nil
}

// Record inserts a position report.
func (c *MongoPositionStore) Record(ctx context.Context, position models.VehiclePosition) (models.VehiclePosition, error) {
	if c.Collection == nil {
		return models.VehiclePosition{}, fmt.Errorf("mongo collection is nil")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return models.VehiclePosition{}, err
	}
	position.ID = id.String()
	// BSON datetimes carry milliseconds
	position.ReportedAt = c.now().UTC().Truncate(time.Millisecond)

	if _, err := c.Collection.InsertOne(ctx, position); err != nil {
		return models.VehiclePosition{}, err
	}
	return position, nil
}

// LatestFor finds the most recent report for vehicleID.
func (c *MongoPositionStore) LatestFor(ctx context.Context, vehicleID string) (*models.VehiclePosition, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "reported_at", Value: -1}, {Key: "_id", Value: -1}})

	var position models.VehiclePosition
	err := c.Collection.FindOne(ctx, bson.M{"vehicle_id": vehicleID}, opts).Decode(&position)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return &position, nil
}

// LatestActiveOnRoute resolves the latest report per vehicle and keeps
// those whose latest report names routeID.
func (c *MongoPositionStore) LatestActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Aggregate(ctx, latestOnRoutePipeline(routeID))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var positions []models.VehiclePosition
	if err := cursor.All(ctx, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func latestOnRoutePipeline(routeID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{
			{Key: "vehicle_id", Value: 1},
			{Key: "reported_at", Value: -1},
			{Key: "_id", Value: -1},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$vehicle_id"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$latest"}}}},
		{{Key: "$match", Value: bson.D{{Key: "route_id", Value: routeID}}}},
		{{Key: "$sort", Value: bson.D{{Key: "vehicle_id", Value: 1}}}},
	}
}

// Ping checks the server connection.
func (c *MongoPositionStore) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("mongo client is nil")
	}
	return c.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (c *MongoPositionStore) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

// DeleteAll removes every position report. Used by integration tests only.
func (c *MongoPositionStore) DeleteAll(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.DeleteMany(ctx, bson.M{})
	return err
}
