package mocks

import (
	"context"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ClaimDueAuditEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.PendingAuditEvent, error) {
	args := m.Called(ctx, now, limit, lease)
	var out []models.PendingAuditEvent
	if v := args.Get(0); v != nil {
		out = v.([]models.PendingAuditEvent)
	}
	return out, args.Error(1)
}

func (m *MockRepository) MarkAuditPublished(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockRepository) MarkAuditFailed(ctx context.Context, id, lastErr string, nextAttemptAt time.Time) error {
	return m.Called(ctx, id, lastErr, nextAttemptAt).Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}
