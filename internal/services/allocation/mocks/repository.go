package mocks

import (
	"context"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) IngestTrackingIDs(ctx context.Context, in models.IngestBatch) (*models.IngestReport, error) {
	args := m.Called(ctx, in)
	r, _ := args.Get(0).(*models.IngestReport)
	return r, args.Error(1)
}

func (m *MockRepository) AssignTrackingIDs(ctx context.Context, req models.AssignRequest) (*models.AssignReport, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*models.AssignReport)
	return r, args.Error(1)
}

func (m *MockRepository) ConsumeTrackingID(ctx context.Context, userID, labelID uuid.UUID) (*models.TrackingID, error) {
	args := m.Called(ctx, userID, labelID)
	r, _ := args.Get(0).(*models.TrackingID)
	return r, args.Error(1)
}

func (m *MockRepository) RevokeTrackingIDs(ctx context.Context, req models.RevokeRequest) (*models.RevokeReport, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*models.RevokeReport)
	return r, args.Error(1)
}

func (m *MockRepository) PoolStats(ctx context.Context) (*models.PoolStats, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*models.PoolStats)
	return r, args.Error(1)
}

func (m *MockRepository) GetAssignment(ctx context.Context, userID uuid.UUID) (*models.UserAssignment, error) {
	args := m.Called(ctx, userID)
	r, _ := args.Get(0).(*models.UserAssignment)
	return r, args.Error(1)
}

func (m *MockRepository) ListTrackingIDs(ctx context.Context, f models.TrackingIDFilter) ([]*models.TrackingID, error) {
	args := m.Called(ctx, f)
	r, _ := args.Get(0).([]*models.TrackingID)
	return r, args.Error(1)
}

func (m *MockRepository) ListAudit(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	args := m.Called(ctx, f)
	r, _ := args.Get(0).([]*models.AuditEntry)
	return r, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}
