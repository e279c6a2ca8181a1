package mocks

import (
	"context"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) UpsertResource(ctx context.Context, r *models.Resource) (*models.Resource, error) {
	args := m.Called(ctx, r)
	var out *models.Resource
	if v := args.Get(0); v != nil {
		out = v.(*models.Resource)
	}
	return out, args.Error(1)
}

func (m *MockRepository) GetTrip(ctx context.Context, accountID, id string) (*models.Trip, error) {
	args := m.Called(ctx, accountID, id)
	var out *models.Trip
	if v := args.Get(0); v != nil {
		out = v.(*models.Trip)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListTrips(ctx context.Context, accountID string, status models.TripStatus, limit, offset int) ([]*models.Trip, error) {
	args := m.Called(ctx, accountID, status, limit, offset)
	var out []*models.Trip
	if v := args.Get(0); v != nil {
		out = v.([]*models.Trip)
	}
	return out, args.Error(1)
}

func (m *MockRepository) GetInvoice(ctx context.Context, accountID, id string) (*models.Invoice, error) {
	args := m.Called(ctx, accountID, id)
	var out *models.Invoice
	if v := args.Get(0); v != nil {
		out = v.(*models.Invoice)
	}
	return out, args.Error(1)
}

func (m *MockRepository) GetWaybillDraft(ctx context.Context, accountID, id string) (*models.WaybillDraft, error) {
	args := m.Called(ctx, accountID, id)
	var out *models.WaybillDraft
	if v := args.Get(0); v != nil {
		out = v.(*models.WaybillDraft)
	}
	return out, args.Error(1)
}

func (m *MockRepository) UpdateDraftStatus(ctx context.Context, accountID, id string, status models.DraftStatus, folio *string) (*models.WaybillDraft, error) {
	args := m.Called(ctx, accountID, id, status, folio)
	var out *models.WaybillDraft
	if v := args.Get(0); v != nil {
		out = v.(*models.WaybillDraft)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListAuditEvents(ctx context.Context, accountID, refKey, refID string) ([]models.AuditEvent, error) {
	args := m.Called(ctx, accountID, refKey, refID)
	var out []models.AuditEvent
	if v := args.Get(0); v != nil {
		out = v.([]models.AuditEvent)
	}
	return out, args.Error(1)
}
