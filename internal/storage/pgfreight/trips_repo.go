package pgfreight

import (
	"context"
	"encoding/json"

	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const tripColumns = `
  id, account_id, origin, destination,
  driver_id, vehicle_id, trailer_id, partner_id,
  distance_km, status, metadata, created_at, updated_at`

func (s *Storage) CreateTrip(ctx context.Context, t *models.Trip) error {
	origin, err := marshalNullable(t.Origin)
	if err != nil {
		return errors.Wrap(err, "marshal origin")
	}
	destination, err := marshalNullable(t.Destination)
	if err != nil {
		return errors.Wrap(err, "marshal destination")
	}
	meta, err := json.Marshal(nonNilMeta(t.Metadata))
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO trips (
  id, account_id, origin, destination,
  driver_id, vehicle_id, trailer_id, partner_id,
  distance_km, status, metadata, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
`, t.ID, t.AccountID, origin, destination,
		t.DriverID, t.VehicleID, t.TrailerID, t.PartnerID,
		t.DistanceKm, t.Status, string(meta), t.CreatedAt.UTC())
	return errors.Wrap(err, "insert trip")
}

func (s *Storage) GetTrip(ctx context.Context, accountID, id string) (*models.Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE account_id = $1 AND id = $2`, accountID, id)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select trip")
	}
	return t, nil
}

// ListTrips returns the account's trips, newest first. An empty status lists every status.
func (s *Storage) ListTrips(ctx context.Context, accountID string, status models.TripStatus, limit, offset int) ([]*models.Trip, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+tripColumns+`
FROM trips
WHERE account_id = $1
  AND ($2::text = '' OR status = $2::text)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`, accountID, string(status), limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select trips")
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan trip")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MergeTripMetadata overwrites the given metadata keys; other keys are kept.
func (s *Storage) MergeTripMetadata(ctx context.Context, accountID, tripID string, meta map[string]string) error {
	b, err := json.Marshal(nonNilMeta(meta))
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	tag, err := s.db.Exec(ctx, `
UPDATE trips SET metadata = metadata || $3::jsonb, updated_at = now()
WHERE account_id = $1 AND id = $2
`, accountID, tripID, string(b))
	if err != nil {
		return errors.Wrap(err, "merge trip metadata")
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetTripStatus updates the status and merges meta into the metadata bag.
func (s *Storage) SetTripStatus(ctx context.Context, accountID, tripID string, status models.TripStatus, meta map[string]string) error {
	b, err := json.Marshal(nonNilMeta(meta))
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	tag, err := s.db.Exec(ctx, `
UPDATE trips SET status = $3, metadata = metadata || $4::jsonb, updated_at = now()
WHERE account_id = $1 AND id = $2
`, accountID, tripID, status, string(b))
	if err != nil {
		return errors.Wrap(err, "update trip status")
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	var origin, destination, meta []byte
	if err := row.Scan(
		&t.ID, &t.AccountID, &origin, &destination,
		&t.DriverID, &t.VehicleID, &t.TrailerID, &t.PartnerID,
		&t.DistanceKm, &t.Status, &meta, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(origin) > 0 {
		t.Origin = &models.Location{}
		if err := json.Unmarshal(origin, t.Origin); err != nil {
			return nil, errors.Wrap(err, "unmarshal origin")
		}
	}
	if len(destination) > 0 {
		t.Destination = &models.Location{}
		if err := json.Unmarshal(destination, t.Destination); err != nil {
			return nil, errors.Wrap(err, "unmarshal destination")
		}
	}
	t.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshal metadata")
		}
	}
	return &t, nil
}

func marshalNullable[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
