package models

import "time"

type TripStatus string

const (
	TripStatusScheduled TripStatus = "scheduled"
	TripStatusInTransit TripStatus = "in_transit"
	TripStatusCompleted TripStatus = "completed"
	// TripStatusOrphaned marks a trip whose downstream documents failed; eligible for cleanup.
	TripStatusOrphaned TripStatus = "orphaned"
)

// Metadata keys of Trip.Metadata.
const (
	MetaCargoDescription = "cargo_description"
	MetaServiceType      = "service_type"
	MetaInvoiceID        = "invoice_id"
	MetaWaybillDraftID   = "waybill_draft_id"
	MetaFailedStage      = "failed_stage"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is the canonical address form. Legacy payloads are converted by package ingest.
type Location struct {
	Address      string    `json:"address"`
	Country      string    `json:"country,omitempty"`
	State        string    `json:"state,omitempty"`
	Municipality string    `json:"municipality,omitempty"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	Street       string    `json:"street,omitempty"`
	PostalCode   string    `json:"postalCode,omitempty"`
	Coordinates  *GeoPoint `json:"coordinates,omitempty"`
	ScheduledAt  time.Time `json:"scheduledAt"`

	DistanceTraveledKm *float64 `json:"distanceTraveledKm,omitempty"`
}

func (l *Location) IsZero() bool {
	return l == nil || (l.Address == "" && l.PostalCode == "" && l.Street == "" && l.Coordinates == nil)
}

type Trip struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`

	Origin      *Location `json:"origin"`
	Destination *Location `json:"destination"`

	DriverID  *string `json:"driverId,omitempty"`
	VehicleID *string `json:"vehicleId,omitempty"`
	TrailerID *string `json:"trailerId,omitempty"`
	PartnerID *string `json:"partnerId,omitempty"`

	DistanceKm *float64   `json:"distanceKm,omitempty"`
	Status     TripStatus `json:"status"`

	Metadata map[string]string `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TripLinks are the downstream record ids mirrored into Trip.Metadata.
type TripLinks struct {
	InvoiceID      *string
	WaybillDraftID string
}

// Apply writes the links into the metadata bag. Keys are overwritten, never appended.
func (l TripLinks) Apply(meta map[string]string) map[string]string {
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	if l.InvoiceID != nil && *l.InvoiceID != "" {
		meta[MetaInvoiceID] = *l.InvoiceID
	}
	if l.WaybillDraftID != "" {
		meta[MetaWaybillDraftID] = l.WaybillDraftID
	}
	return meta
}
