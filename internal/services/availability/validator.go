// Package availability decides whether fleet resources are free for a trip window and reserves them.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

type Store interface {
	GetResource(ctx context.Context, accountID string, kind models.ResourceKind, id string) (*models.Resource, error)
	ReserveResource(ctx context.Context, accountID string, ref models.ResourceRef, tripID string, version int64) (bool, error)
	ReleaseResource(ctx context.Context, accountID string, ref models.ResourceRef, tripID string) error
}

type ResourceCheck struct {
	Available bool                          `json:"available"`
	Conflicts []models.AvailabilityConflict `json:"conflicts,omitempty"`
	Warnings  []string                      `json:"warnings,omitempty"`

	// version read during the check; used by Reserve.
	version int64
}

type AvailabilityReport struct {
	AllAvailable bool                                 `json:"allAvailable"`
	PerResource  map[models.ResourceRef]ResourceCheck `json:"-"`
}

// Conflicts lists every conflict of the report in driver, vehicle, trailer, partner order.
func (r AvailabilityReport) Conflicts(sel models.Selection) []models.AvailabilityConflict {
	var out []models.AvailabilityConflict
	for _, ref := range sel.Refs() {
		out = append(out, r.PerResource[ref].Conflicts...)
	}
	return out
}

func (r AvailabilityReport) Warnings(sel models.Selection) []string {
	var out []string
	for _, ref := range sel.Refs() {
		out = append(out, r.PerResource[ref].Warnings...)
	}
	return out
}

type Validator struct {
	store Store
}

func New(store Store) *Validator {
	return &Validator{store: store}
}

// CheckResource reports whether one resource can be used in [start, end].
// "Unavailable" is a normal result; only store failures return an error.
func (v *Validator) CheckResource(ctx context.Context, acct account.Context, kind models.ResourceKind, id string, start, end time.Time) (ResourceCheck, error) {
	if err := acct.Validate(); err != nil {
		return ResourceCheck{}, err
	}
	if !kind.Valid() {
		return ResourceCheck{}, fmt.Errorf("unknown resource kind %q", kind)
	}

	r, err := v.store.GetResource(ctx, acct.AccountID, kind, id)
	if errors.Is(err, errs.ErrNotFound) {
		return v.conflict(models.AvailabilityConflict{Kind: kind, ResourceID: id, Reason: models.ConflictNotFound}), nil
	}
	if err != nil {
		return ResourceCheck{}, errs.Transient("get resource", err)
	}

	if r.State != models.ResourceAvailable {
		return v.conflict(models.AvailabilityConflict{
			Kind:              kind,
			ResourceID:        id,
			Reason:            models.ConflictUnavailable,
			State:             r.State,
			ConflictingTripID: r.HeldByTripID,
		}), nil
	}

	check := ResourceCheck{Available: true, version: r.Version}
	if r.HeldByTripID != nil {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("%s %s is available but still linked to trip %s", kind, id, *r.HeldByTripID))
	}
	if r.AvailableAgainAt != nil && !start.IsZero() && r.AvailableAgainAt.After(start) {
		check.Warnings = append(check.Warnings,
			fmt.Sprintf("%s %s is expected back at %s, after the trip starts", kind, id, r.AvailableAgainAt.UTC().Format(time.RFC3339)))
	}
	if !end.IsZero() && end.Before(start) {
		check.Warnings = append(check.Warnings, "trip window ends before it starts")
	}
	return check, nil
}

// CheckAll checks every assigned resource of sel; unassigned ones are skipped.
func (v *Validator) CheckAll(ctx context.Context, acct account.Context, sel models.Selection, w models.Window) (AvailabilityReport, error) {
	report := AvailabilityReport{AllAvailable: true, PerResource: make(map[models.ResourceRef]ResourceCheck, 4)}
	for _, ref := range sel.Refs() {
		check, err := v.CheckResource(ctx, acct, ref.Kind, ref.ID, w.Start, w.End)
		if err != nil {
			return AvailabilityReport{}, err
		}
		report.PerResource[ref] = check
		if !check.Available {
			report.AllAvailable = false
		}
	}
	return report, nil
}

// Reserve holds every assigned driver, vehicle and trailer for tripID using the versions read by CheckAll.
// Partners are not held. When any reservation is lost, the ones already taken are released and a
// ResourceUnavailableError with reason reservation_lost is returned.
func (v *Validator) Reserve(ctx context.Context, acct account.Context, tripID string, sel models.Selection, report AvailabilityReport) ([]models.ResourceRef, error) {
	var held []models.ResourceRef
	for _, ref := range sel.Refs() {
		if ref.Kind == models.ResourcePartner {
			continue
		}
		check, ok := report.PerResource[ref]
		if !ok || !check.Available {
			_ = v.Release(ctx, acct, tripID, held)
			return nil, &errs.ResourceUnavailableError{Conflicts: []models.AvailabilityConflict{{
				Kind: ref.Kind, ResourceID: ref.ID, Reason: models.ConflictUnavailable,
			}}}
		}

		won, err := v.store.ReserveResource(ctx, acct.AccountID, ref, tripID, check.version)
		if err != nil {
			_ = v.Release(ctx, acct, tripID, held)
			return nil, errs.Transient("reserve resource", err)
		}
		if !won {
			_ = v.Release(ctx, acct, tripID, held)
			c := models.AvailabilityConflict{Kind: ref.Kind, ResourceID: ref.ID, Reason: models.ConflictReservationLost}
			if r, err := v.store.GetResource(ctx, acct.AccountID, ref.Kind, ref.ID); err == nil {
				c.State = r.State
				c.ConflictingTripID = r.HeldByTripID
			}
			metrics.AvailabilityConflicts.WithLabelValues(string(c.Kind), string(c.Reason)).Inc()
			return nil, &errs.ResourceUnavailableError{Conflicts: []models.AvailabilityConflict{c}}
		}
		held = append(held, ref)
	}
	return held, nil
}

// Release frees resources held by tripID. Failures are logged; a stuck hold is visible on the resource.
func (v *Validator) Release(ctx context.Context, acct account.Context, tripID string, refs []models.ResourceRef) error {
	var firstErr error
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		if err := v.store.ReleaseResource(ctx, acct.AccountID, ref, tripID); err != nil {
			slog.Error("release resource failed", "resource", ref.String(), "trip_id", tripID, "err", err)
			if firstErr == nil {
				firstErr = errs.Transient("release resource", err)
			}
		}
	}
	return firstErr
}

func (v *Validator) conflict(c models.AvailabilityConflict) ResourceCheck {
	metrics.AvailabilityConflicts.WithLabelValues(string(c.Kind), string(c.Reason)).Inc()
	return ResourceCheck{Conflicts: []models.AvailabilityConflict{c}}
}
