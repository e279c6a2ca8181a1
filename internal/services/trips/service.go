// Package trips serves reads over trips, waybill drafts and resources, and applies renderer status
// reports to drafts. Drafts are cached in Redis; the store stays the source of truth.
package trips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/cache"
	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/audit"
	"github.com/pkg/errors"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Repository interface {
	UpsertResource(ctx context.Context, r *models.Resource) (*models.Resource, error)
	GetTrip(ctx context.Context, accountID, id string) (*models.Trip, error)
	ListTrips(ctx context.Context, accountID string, status models.TripStatus, limit, offset int) ([]*models.Trip, error)
	GetInvoice(ctx context.Context, accountID, id string) (*models.Invoice, error)
	GetWaybillDraft(ctx context.Context, accountID, id string) (*models.WaybillDraft, error)
	UpdateDraftStatus(ctx context.Context, accountID, id string, status models.DraftStatus, folio *string) (*models.WaybillDraft, error)
	ListAuditEvents(ctx context.Context, accountID, refKey, refID string) ([]models.AuditEvent, error)
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	audit    audit.Recorder
	draftTTL time.Duration
}

// New builds the service. A nil cache or a non-positive ttl disables draft caching.
func New(repo Repository, c cache.BytesCache, rec audit.Recorder, draftTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, audit: rec, draftTTL: draftTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.draftTTL > 0
}

func (s *Service) UpsertResource(ctx context.Context, acct account.Context, r *models.Resource) (*models.Resource, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if !r.Kind.Valid() {
		return nil, &errs.MappingError{Field: "kind", Reason: fmt.Sprintf("unknown resource kind %q", r.Kind)}
	}
	if strings.TrimSpace(r.ID) == "" {
		return nil, &errs.MappingError{Field: "id", Reason: "resource id is required"}
	}
	switch r.State {
	case "":
		r.State = models.ResourceAvailable
	case models.ResourceAvailable, models.ResourceInUse, models.ResourceMaintenance, models.ResourceInactive:
	default:
		return nil, &errs.MappingError{Field: "state", Reason: fmt.Sprintf("unknown resource state %q", r.State)}
	}
	r.AccountID = acct.AccountID

	out, err := s.repo.UpsertResource(ctx, r)
	if err != nil {
		return nil, errs.Transient("upsert resource", err)
	}
	return out, nil
}

func (s *Service) GetTrip(ctx context.Context, acct account.Context, id string) (*models.Trip, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	t, err := s.repo.GetTrip(ctx, acct.AccountID, id)
	if err != nil {
		return nil, errs.Transient("get trip", err)
	}
	return t, nil
}

// ListTrips pages through the account's trips, newest first. An empty status lists every status.
func (s *Service) ListTrips(ctx context.Context, acct account.Context, status models.TripStatus, limit, offset int) ([]*models.Trip, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.repo.ListTrips(ctx, acct.AccountID, status, limit, offset)
	if err != nil {
		return nil, errs.Transient("list trips", err)
	}
	return out, nil
}

func (s *Service) GetInvoice(ctx context.Context, acct account.Context, id string) (*models.Invoice, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	inv, err := s.repo.GetInvoice(ctx, acct.AccountID, id)
	if err != nil {
		return nil, errs.Transient("get invoice", err)
	}
	return inv, nil
}

func (s *Service) GetWaybillDraft(ctx context.Context, acct account.Context, id string) (*models.WaybillDraft, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, draftKey(acct.AccountID, id))
		if err == nil && ok {
			var d models.WaybillDraft
			if json.Unmarshal(b, &d) == nil {
				return &d, nil
			}
		}
	}

	d, err := s.repo.GetWaybillDraft(ctx, acct.AccountID, id)
	if err != nil {
		return nil, errs.Transient("get waybill draft", err)
	}
	s.cacheDraft(ctx, d)
	return d, nil
}

// TripAuditTrail lists the audit events referencing the trip, oldest first.
func (s *Service) TripAuditTrail(ctx context.Context, acct account.Context, tripID string) ([]models.AuditEvent, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetTrip(ctx, acct, tripID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListAuditEvents(ctx, acct.AccountID, "trip_id", tripID)
	if err != nil {
		return nil, errs.Transient("list audit events", err)
	}
	return out, nil
}

// ApplyWaybillStatus records a status reported by the fiscal renderer. Reports carrying an error
// leave the draft untouched.
func (s *Service) ApplyWaybillStatus(ctx context.Context, msg messages.WaybillStatusChanged) error {
	acct, err := account.New(msg.AccountID)
	if err != nil {
		return err
	}
	if msg.WaybillDraftID == "" {
		return errors.New("waybill_draft_id is required")
	}
	if msg.Error != nil {
		metrics.WaybillStatusUpdates.WithLabelValues("renderer_error").Inc()
		slog.Warn("renderer reported failure", "account_id", acct.AccountID, "waybill_draft_id", msg.WaybillDraftID, "err", *msg.Error)
		return nil
	}
	switch msg.Status {
	case models.DraftStatusIssued:
		if msg.FiscalFolio == nil || *msg.FiscalFolio == "" {
			return &errs.MappingError{Field: "fiscal_folio", Reason: "issued drafts need a fiscal folio"}
		}
	case models.DraftStatusCancelled:
	default:
		return &errs.MappingError{Field: "status", Reason: fmt.Sprintf("unsupported status %q", msg.Status)}
	}

	d, err := s.repo.UpdateDraftStatus(ctx, acct.AccountID, msg.WaybillDraftID, msg.Status, msg.FiscalFolio)
	if err != nil {
		result := "error"
		if errors.Is(err, errs.ErrInvalidTransition) || errors.Is(err, errs.ErrNotFound) {
			result = "rejected"
		}
		metrics.WaybillStatusUpdates.WithLabelValues(result).Inc()
		return errs.Transient("update draft status", err)
	}
	metrics.WaybillStatusUpdates.WithLabelValues("applied").Inc()

	s.cacheDraft(ctx, d)
	if s.audit != nil {
		refs := map[string]string{"trip_id": d.TripID, "waybill_draft_id": d.ID}
		if d.InvoiceID != nil {
			refs["invoice_id"] = *d.InvoiceID
		}
		payload := map[string]any{"status": string(d.Status)}
		if d.FiscalFolio != nil {
			payload["fiscal_folio"] = *d.FiscalFolio
		}
		s.audit.Record(ctx, acct, models.AuditDraftStatusChanged, refs, payload)
	}
	return nil
}

func (s *Service) cacheDraft(ctx context.Context, d *models.WaybillDraft) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, draftKey(d.AccountID, d.ID), b, s.draftTTL)
}

func draftKey(accountID, id string) string {
	return fmt.Sprintf("waybill:%s:%s", accountID, id)
}
