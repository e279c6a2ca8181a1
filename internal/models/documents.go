package models

import "time"

type FiscalParty struct {
	TaxID      string `json:"taxId"`
	Name       string `json:"name"`
	TaxRegime  string `json:"taxRegime,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "draft"
	InvoiceStatusVoided InvoiceStatus = "voided"
)

// Invoice is the pre-invoice derived for billable trips.
type Invoice struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	TripID    string `json:"tripId"`

	Emitter  FiscalParty `json:"emitter"`
	Receiver FiscalParty `json:"receiver"`

	PaymentTerms string  `json:"paymentTerms"`
	CreditDays   int     `json:"creditDays,omitempty"`
	Currency     string  `json:"currency"`
	Subtotal     float64 `json:"subtotal"`
	TaxTransfer  float64 `json:"taxTransferred"`
	TaxWithheld  float64 `json:"taxWithheld"`
	Total        float64 `json:"total"`

	Status    InvoiceStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusIssued    DraftStatus = "issued"
	DraftStatusCancelled DraftStatus = "cancelled"
)

// CanTransition reports whether the renderer may move a draft from s to next.
func (s DraftStatus) CanTransition(next DraftStatus) bool {
	switch s {
	case DraftStatusDraft:
		return next == DraftStatusIssued || next == DraftStatusCancelled
	case DraftStatusIssued:
		return next == DraftStatusCancelled
	}
	return false
}

type WaybillDraft struct {
	ID        string  `json:"id"`
	AccountID string  `json:"accountId"`
	TripID    string  `json:"tripId"`
	InvoiceID *string `json:"invoiceId,omitempty"`

	Status      DraftStatus `json:"status"`
	FiscalFolio *string     `json:"fiscalFolio,omitempty"`

	Document WaybillDocument `json:"document"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WaybillDocument is the structure handed to the fiscal renderer. Field names are a contract.
type WaybillDocument struct {
	Version                string  `json:"version"`
	InternationalTransport bool    `json:"internationalTransport"`
	TotalDistanceKm        float64 `json:"totalDistanceKm"`

	Emitter  FiscalParty `json:"emitter"`
	Receiver FiscalParty `json:"receiver"`

	Locations     []WaybillLocation `json:"locations"`
	Goods         WaybillGoods      `json:"goods"`
	TransportUnit TransportUnit     `json:"transportUnit"`
	Personnel     []PersonnelEntry  `json:"personnel"`

	Advisories []Advisory `json:"advisories,omitempty"`
}

type LocationKind string

const (
	LocationOrigin      LocationKind = "origin"
	LocationDestination LocationKind = "destination"
)

type WaybillLocation struct {
	Kind               LocationKind   `json:"kind"`
	ID                 string         `json:"id"`
	TaxID              string         `json:"taxId,omitempty"`
	Name               string         `json:"name,omitempty"`
	ScheduledAt        time.Time      `json:"scheduledAt"`
	DistanceTraveledKm float64        `json:"distanceTraveledKm,omitempty"`
	Address            WaybillAddress `json:"address"`
}

type WaybillAddress struct {
	Formatted    string `json:"formatted"`
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	Municipality string `json:"municipality"`
	State        string `json:"state"`
	Country      string `json:"country"`
	PostalCode   string `json:"postalCode"`
}

type WaybillGoods struct {
	TotalWeightKg float64         `json:"totalWeightKg"`
	WeightUnit    string          `json:"weightUnit"`
	ItemCount     int             `json:"itemCount"`
	Items         []CargoLineItem `json:"items"`
}

type TransportUnit struct {
	PermitType   string        `json:"permitType"`
	PermitNumber string        `json:"permitNumber"`
	Vehicle      VehicleID     `json:"vehicle"`
	Insurance    Insurance     `json:"insurance"`
	Trailers     []TrailerUnit `json:"trailers,omitempty"`

	// Unverified lists fields filled with placeholders; compliance consumers must not trust them.
	Unverified []string `json:"unverified,omitempty"`
}

type VehicleID struct {
	Configuration string  `json:"configuration"`
	Plate         string  `json:"plate"`
	ModelYear     int     `json:"modelYear"`
	GrossWeightT  float64 `json:"grossWeightT"`
}

type Insurance struct {
	CivilLiabilityInsurer string `json:"civilLiabilityInsurer"`
	CivilLiabilityPolicy  string `json:"civilLiabilityPolicy"`
	CargoInsurer          string `json:"cargoInsurer,omitempty"`
	CargoPolicy           string `json:"cargoPolicy,omitempty"`
}

type TrailerUnit struct {
	Subtype string `json:"subtype"`
	Plate   string `json:"plate"`
}

type PersonnelEntry struct {
	Role            string         `json:"role"`
	TaxID           string         `json:"taxId"`
	Name            string         `json:"name"`
	LicenseNumber   string         `json:"licenseNumber"`
	CURP            string         `json:"curp"`
	FiscalResidence WaybillAddress `json:"fiscalResidence"`
}
