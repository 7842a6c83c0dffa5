package tracking

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/ukydev/transit-proximity/internal/models"
)

// MockPositionStore is a mock implementation of db.PositionStore
type MockPositionStore struct {
	mock.Mock
}

func (m *MockPositionStore) Record(ctx context.Context, position models.VehiclePosition) (models.VehiclePosition, error) {
	args := m.Called(ctx, position)
	return args.Get(0).(models.VehiclePosition), args.Error(1)
}

func (m *MockPositionStore) LatestFor(ctx context.Context, vehicleID string) (*models.VehiclePosition, error) {
	args := m.Called(ctx, vehicleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VehiclePosition), args.Error(1)
}

func (m *MockPositionStore) LatestActiveOnRoute(ctx context.Context, routeID string) ([]models.VehiclePosition, error) {
	args := m.Called(ctx, routeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.VehiclePosition), args.Error(1)
}

func (m *MockPositionStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPositionStore) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type recordingListener struct {
	positions []models.VehiclePosition
}

func (l *recordingListener) PositionRecorded(p models.VehiclePosition) {
	l.positions = append(l.positions, p)
}

func ptr(f float64) *float64 {
	return &f
}
