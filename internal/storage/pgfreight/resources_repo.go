package pgfreight

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const resourceColumns = `account_id, kind, id, state, held_by_trip, available_again_at, version, profile, updated_at`

type profileDoc struct {
	Driver  *models.DriverProfile  `json:"driver,omitempty"`
	Vehicle *models.VehicleProfile `json:"vehicle,omitempty"`
	Trailer *models.TrailerProfile `json:"trailer,omitempty"`
	Partner *models.PartnerProfile `json:"partner,omitempty"`
}

// UpsertResource creates or replaces a resource profile and state. Reservation fields are left untouched
// on update unless the new state releases the resource.
func (s *Storage) UpsertResource(ctx context.Context, r *models.Resource) (*models.Resource, error) {
	profile, err := json.Marshal(profileDoc{Driver: r.Driver, Vehicle: r.Vehicle, Trailer: r.Trailer, Partner: r.Partner})
	if err != nil {
		return nil, errors.Wrap(err, "marshal profile")
	}

	row := s.db.QueryRow(ctx, `
INSERT INTO resources (account_id, kind, id, state, available_again_at, version, profile, updated_at)
VALUES ($1,$2,$3,$4,$5,1,$6,now())
ON CONFLICT (account_id, kind, id)
DO UPDATE SET
  state = EXCLUDED.state,
  available_again_at = EXCLUDED.available_again_at,
  profile = EXCLUDED.profile,
  held_by_trip = CASE WHEN EXCLUDED.state = 'available' THEN NULL ELSE resources.held_by_trip END,
  version = resources.version + 1,
  updated_at = now()
RETURNING `+resourceColumns,
		r.AccountID, r.Kind, r.ID, r.State, r.AvailableAgainAt, string(profile))

	out, err := scanResource(row)
	if err != nil {
		return nil, errors.Wrap(err, "upsert resource")
	}
	return out, nil
}

func (s *Storage) GetResource(ctx context.Context, accountID string, kind models.ResourceKind, id string) (*models.Resource, error) {
	row := s.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE account_id = $1 AND kind = $2 AND id = $3`,
		accountID, kind, id)
	r, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select resource")
	}
	return r, nil
}

// ReserveResource marks an available resource in_use for tripID, replacing any stale trip link.
// It reports false when the resource changed since version was read.
func (s *Storage) ReserveResource(ctx context.Context, accountID string, ref models.ResourceRef, tripID string, version int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE resources
SET state = $5, held_by_trip = $4, version = version + 1, updated_at = now()
WHERE account_id = $1 AND kind = $2 AND id = $3
  AND state = $6
  AND version = $7
`, accountID, ref.Kind, ref.ID, tripID, models.ResourceInUse, models.ResourceAvailable, version)
	if err != nil {
		return false, errors.Wrap(err, "reserve resource")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseResource frees a resource held by tripID. Releasing a resource held by another trip is a no-op.
func (s *Storage) ReleaseResource(ctx context.Context, accountID string, ref models.ResourceRef, tripID string) error {
	_, err := s.db.Exec(ctx, `
UPDATE resources
SET state = $5, held_by_trip = NULL, version = version + 1, updated_at = now()
WHERE account_id = $1 AND kind = $2 AND id = $3 AND held_by_trip = $4
`, accountID, ref.Kind, ref.ID, tripID, models.ResourceAvailable)
	return errors.Wrap(err, "release resource")
}

func scanResource(row pgx.Row) (*models.Resource, error) {
	var r models.Resource
	var heldBy *string
	var availableAgain *time.Time
	var profile []byte
	if err := row.Scan(
		&r.AccountID, &r.Kind, &r.ID, &r.State,
		&heldBy, &availableAgain, &r.Version, &profile, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.HeldByTripID = heldBy
	r.AvailableAgainAt = availableAgain

	var p profileDoc
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &p); err != nil {
			return nil, errors.Wrap(err, "unmarshal profile")
		}
	}
	r.Driver, r.Vehicle, r.Trailer, r.Partner = p.Driver, p.Vehicle, p.Trailer, p.Partner
	return &r, nil
}
