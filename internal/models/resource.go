package models

import "time"

type ResourceKind string

const (
	ResourceDriver  ResourceKind = "driver"
	ResourceVehicle ResourceKind = "vehicle"
	ResourceTrailer ResourceKind = "trailer"
	ResourcePartner ResourceKind = "partner"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceDriver, ResourceVehicle, ResourceTrailer, ResourcePartner:
		return true
	}
	return false
}

type ResourceState string

const (
	ResourceAvailable   ResourceState = "available"
	ResourceInUse       ResourceState = "in_use"
	ResourceMaintenance ResourceState = "maintenance"
	ResourceInactive    ResourceState = "inactive"
)

type Resource struct {
	ID        string        `json:"id"`
	AccountID string        `json:"accountId"`
	Kind      ResourceKind  `json:"kind"`
	State     ResourceState `json:"state"`

	HeldByTripID     *string    `json:"heldByTripId,omitempty"`
	AvailableAgainAt *time.Time `json:"availableAgainAt,omitempty"`

	// Version is the optimistic-concurrency token bumped on every reservation change.
	Version int64 `json:"version"`

	Driver  *DriverProfile  `json:"driver,omitempty"`
	Vehicle *VehicleProfile `json:"vehicle,omitempty"`
	Trailer *TrailerProfile `json:"trailer,omitempty"`
	Partner *PartnerProfile `json:"partner,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

type DriverProfile struct {
	Name            string    `json:"name"`
	TaxID           string    `json:"taxId,omitempty"`
	LicenseNumber   string    `json:"licenseNumber,omitempty"`
	CURP            string    `json:"curp,omitempty"`
	FiscalResidence *Location `json:"fiscalResidence,omitempty"`
}

type VehicleProfile struct {
	Plate         string  `json:"plate"`
	Configuration string  `json:"configuration,omitempty"`
	ModelYear     int     `json:"modelYear,omitempty"`
	GrossWeightT  float64 `json:"grossWeightT,omitempty"`

	PermitType   string `json:"permitType,omitempty"`
	PermitNumber string `json:"permitNumber,omitempty"`

	CivilLiabilityInsurer string `json:"civilLiabilityInsurer,omitempty"`
	CivilLiabilityPolicy  string `json:"civilLiabilityPolicy,omitempty"`
	CargoInsurer          string `json:"cargoInsurer,omitempty"`
	CargoPolicy           string `json:"cargoPolicy,omitempty"`
}

type TrailerProfile struct {
	Plate   string `json:"plate"`
	Subtype string `json:"subtype,omitempty"`
}

type PartnerProfile struct {
	Name         string    `json:"name"`
	TaxID        string    `json:"taxId,omitempty"`
	TaxRegime    string    `json:"taxRegime,omitempty"`
	PostalCode   string    `json:"postalCode,omitempty"`
	Address      *Location `json:"address,omitempty"`
	PaymentTerms string    `json:"paymentTerms,omitempty"`
	CreditDays   int       `json:"creditDays,omitempty"`
}

// ResourceRef identifies one selected resource.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

func (r ResourceRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Selection is the set of resources picked for a trip. Nil means "not assigned".
type Selection struct {
	DriverID  *string `json:"driverId,omitempty"`
	VehicleID *string `json:"vehicleId,omitempty"`
	TrailerID *string `json:"trailerId,omitempty"`
	PartnerID *string `json:"partnerId,omitempty"`
}

// Refs lists the assigned resources in driver, vehicle, trailer, partner order.
func (s Selection) Refs() []ResourceRef {
	out := make([]ResourceRef, 0, 4)
	add := func(kind ResourceKind, id *string) {
		if id != nil && *id != "" {
			out = append(out, ResourceRef{Kind: kind, ID: *id})
		}
	}
	add(ResourceDriver, s.DriverID)
	add(ResourceVehicle, s.VehicleID)
	add(ResourceTrailer, s.TrailerID)
	add(ResourcePartner, s.PartnerID)
	return out
}

type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ConflictReason string

const (
	ConflictNotFound        ConflictReason = "not_found"
	ConflictUnavailable     ConflictReason = "unavailable"
	ConflictReservationLost ConflictReason = "reservation_lost"
)

type AvailabilityConflict struct {
	Kind              ResourceKind   `json:"kind"`
	ResourceID        string         `json:"resourceId"`
	Reason            ConflictReason `json:"reason"`
	State             ResourceState  `json:"state,omitempty"`
	ConflictingTripID *string        `json:"conflictingTripId,omitempty"`
}
