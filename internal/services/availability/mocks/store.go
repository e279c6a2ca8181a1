package mocks

import (
	"context"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetResource(ctx context.Context, accountID string, kind models.ResourceKind, id string) (*models.Resource, error) {
	args := m.Called(ctx, accountID, kind, id)
	var r *models.Resource
	if v := args.Get(0); v != nil {
		r = v.(*models.Resource)
	}
	return r, args.Error(1)
}

func (m *MockStore) ReserveResource(ctx context.Context, accountID string, ref models.ResourceRef, tripID string, version int64) (bool, error) {
	args := m.Called(ctx, accountID, ref, tripID, version)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ReleaseResource(ctx context.Context, accountID string, ref models.ResourceRef, tripID string) error {
	return m.Called(ctx, accountID, ref, tripID).Error(0)
}
