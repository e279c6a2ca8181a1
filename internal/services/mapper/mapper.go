// Package mapper assembles trip, resource and cargo data into the waybill document structure.
//
// Only missing origin, destination or receiver tax id fail the mapping. Everything else degrades
// to defaults and is reported through advisories.
package mapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/models"
)

const (
	DocumentVersion = "3.1"

	// Placeholder fills transport fields the fleet record does not carry; such fields are listed as unverified.
	Placeholder = "PENDIENTE"

	DefaultCountry        = "MEX"
	DefaultPermitType     = "TPAF01"
	DefaultConfiguration  = "C2"
	DefaultTrailerSubtype = "CTR004"
	OperatorRole          = "01"
	WeightUnit            = "KGM"
	DefaultTariffCode     = "98020001"
)

var (
	postalCodeLabeledRe = regexp.MustCompile(`(?i)\bC\.?\s*P\.?\s*:?\s*(\d{5})\b`)
	postalCodeBareRe    = regexp.MustCompile(`\b(\d{5})\b`)
)

type Resources struct {
	Driver  *models.Resource
	Vehicle *models.Resource
	Trailer *models.Resource
}

type Input struct {
	Trip      models.Trip
	Resources Resources
	Partner   *models.Resource
	Cargo     []models.CargoLineItem
	Emitter   models.FiscalParty
	// Personnel, when set, is used verbatim instead of synthesizing an entry from the driver.
	Personnel []models.PersonnelEntry
}

type builder struct {
	advisories []models.Advisory
	unverified []string
}

func (b *builder) advise(code models.AdvisoryCode, field, msg string) {
	b.advisories = append(b.advisories, models.Advisory{Code: code, Field: field, Message: msg})
}

// placeholder returns v, or Placeholder when v is empty, recording field as unverified.
func (b *builder) placeholder(v, def, field string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	b.unverified = append(b.unverified, field)
	return def
}

func Map(in Input) (models.WaybillDocument, []models.Advisory, error) {
	if in.Trip.Origin.IsZero() {
		return models.WaybillDocument{}, nil, &errs.MappingError{Field: "origin", Reason: "location is required"}
	}
	if in.Trip.Destination.IsZero() {
		return models.WaybillDocument{}, nil, &errs.MappingError{Field: "destination", Reason: "location is required"}
	}
	receiver, err := receiverParty(in.Partner)
	if err != nil {
		return models.WaybillDocument{}, nil, err
	}

	b := &builder{}
	distance := totalDistance(in.Trip)

	doc := models.WaybillDocument{
		Version:         DocumentVersion,
		TotalDistanceKm: distance,
		Emitter:         in.Emitter,
		Receiver:        receiver,
	}

	origin := models.WaybillLocation{
		Kind:        models.LocationOrigin,
		ID:          "OR000001",
		TaxID:       in.Emitter.TaxID,
		Name:        in.Emitter.Name,
		ScheduledAt: in.Trip.Origin.ScheduledAt,
		Address:     b.address(in.Trip.Origin, "locations[origin].address"),
	}
	destination := models.WaybillLocation{
		Kind:               models.LocationDestination,
		ID:                 "DE000001",
		TaxID:              receiver.TaxID,
		Name:               receiver.Name,
		ScheduledAt:        in.Trip.Destination.ScheduledAt,
		DistanceTraveledKm: distance,
		Address:            b.address(in.Trip.Destination, "locations[destination].address"),
	}
	doc.Locations = []models.WaybillLocation{origin, destination}

	doc.Goods = b.goods(in.Cargo)
	doc.TransportUnit = b.transportUnit(in.Resources.Vehicle, in.Resources.Trailer)
	doc.Personnel = b.personnel(in.Personnel, in.Resources.Driver)

	doc.TransportUnit.Unverified = b.unverified
	if len(b.unverified) > 0 {
		b.advise(models.AdvisoryUnverifiedPlaceholder, "transportUnit",
			fmt.Sprintf("placeholder values used for %s", strings.Join(b.unverified, ", ")))
	}
	doc.Advisories = b.advisories
	return doc, b.advisories, nil
}

func receiverParty(partner *models.Resource) (models.FiscalParty, error) {
	if partner == nil || partner.Partner == nil || strings.TrimSpace(partner.Partner.TaxID) == "" {
		return models.FiscalParty{}, &errs.MappingError{Field: "receiver.taxId", Reason: "business partner tax id is required"}
	}
	p := partner.Partner
	pc := p.PostalCode
	if pc == "" && p.Address != nil {
		pc = p.Address.PostalCode
		if pc == "" {
			pc = ParsePostalCode(p.Address.Address)
		}
	}
	return models.FiscalParty{TaxID: p.TaxID, Name: p.Name, TaxRegime: p.TaxRegime, PostalCode: pc}, nil
}

func totalDistance(t models.Trip) float64 {
	if t.DistanceKm != nil {
		return *t.DistanceKm
	}
	if t.Destination != nil && t.Destination.DistanceTraveledKm != nil {
		return *t.Destination.DistanceTraveledKm
	}
	return 0
}

func (b *builder) address(loc *models.Location, field string) models.WaybillAddress {
	addr := models.WaybillAddress{
		Formatted:    loc.Address,
		Street:       loc.Street,
		Neighborhood: loc.Neighborhood,
		Municipality: loc.Municipality,
		State:        loc.State,
		Country:      loc.Country,
		PostalCode:   loc.PostalCode,
	}
	if addr.PostalCode == "" {
		addr.PostalCode = ParsePostalCode(loc.Address)
	}
	if addr.Street == "" {
		addr.Street = leadingSegment(loc.Address)
	}
	if addr.Country == "" {
		addr.Country = DefaultCountry
	}
	if addr.PostalCode == "" {
		b.advise(models.AdvisoryPostalCodeMissing, field+".postalCode",
			fmt.Sprintf("no postal code found in %q", loc.Address))
	}
	return addr
}

// ParsePostalCode finds a "C.P. 12345" mention, else the last lone 5-digit token after the first
// comma. The leading segment is the street line, where a 5-digit number is a house number.
func ParsePostalCode(s string) string {
	if m := postalCodeLabeledRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	i := strings.IndexByte(s, ',')
	if i < 0 {
		return ""
	}
	ms := postalCodeBareRe.FindAllStringSubmatch(s[i+1:], -1)
	if len(ms) == 0 {
		return ""
	}
	return ms[len(ms)-1][1]
}

// leadingSegment returns the part of a comma-separated address before the first comma.
func leadingSegment(s string) string {
	i := strings.IndexByte(s, ',')
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(s[:i])
}

func (b *builder) goods(cargo []models.CargoLineItem) models.WaybillGoods {
	items := make([]models.CargoLineItem, len(cargo))
	copy(items, cargo)
	if len(items) == 0 {
		items = append(items, DefaultCargoItem())
		b.advise(models.AdvisoryDefaultCargo, "goods.items", "no cargo supplied; a generic line item was synthesized")
	}
	var total float64
	for _, it := range items {
		total += it.EstimatedWeightKg
	}
	return models.WaybillGoods{
		TotalWeightKg: total,
		WeightUnit:    WeightUnit,
		ItemCount:     len(items),
		Items:         items,
	}
}

// DefaultCargoItem is the line item used when a trip carries no cargo at all.
func DefaultCargoItem() models.CargoLineItem {
	return models.CargoLineItem{
		Description:        "Mercancia general",
		Quantity:           1,
		UnitOfMeasure:      "H87",
		ClassificationCode: "01010101",
		TariffCode:         DefaultTariffCode,
		Currency:           "MXN",
		Provenance:         models.ProvenanceInferred,
		Confidence:         models.ConfidenceLow,
	}
}

func (b *builder) transportUnit(vehicle, trailer *models.Resource) models.TransportUnit {
	var v models.VehicleProfile
	if vehicle != nil && vehicle.Vehicle != nil {
		v = *vehicle.Vehicle
	}
	tu := models.TransportUnit{
		PermitType:   b.placeholder(v.PermitType, DefaultPermitType, "transportUnit.permitType"),
		PermitNumber: b.placeholder(v.PermitNumber, Placeholder, "transportUnit.permitNumber"),
		Vehicle: models.VehicleID{
			Configuration: b.placeholder(v.Configuration, DefaultConfiguration, "transportUnit.vehicle.configuration"),
			Plate:         b.placeholder(v.Plate, Placeholder, "transportUnit.vehicle.plate"),
			ModelYear:     v.ModelYear,
			GrossWeightT:  v.GrossWeightT,
		},
		Insurance: models.Insurance{
			CivilLiabilityInsurer: b.placeholder(v.CivilLiabilityInsurer, Placeholder, "transportUnit.insurance.civilLiabilityInsurer"),
			CivilLiabilityPolicy:  b.placeholder(v.CivilLiabilityPolicy, Placeholder, "transportUnit.insurance.civilLiabilityPolicy"),
			CargoInsurer:          v.CargoInsurer,
			CargoPolicy:           v.CargoPolicy,
		},
	}
	if trailer != nil {
		var t models.TrailerProfile
		if trailer.Trailer != nil {
			t = *trailer.Trailer
		}
		tu.Trailers = []models.TrailerUnit{{
			Subtype: b.placeholder(t.Subtype, DefaultTrailerSubtype, "transportUnit.trailers[0].subtype"),
			Plate:   b.placeholder(t.Plate, Placeholder, "transportUnit.trailers[0].plate"),
		}}
	}
	return tu
}

func (b *builder) personnel(given []models.PersonnelEntry, driver *models.Resource) []models.PersonnelEntry {
	if len(given) > 0 {
		out := make([]models.PersonnelEntry, len(given))
		copy(out, given)
		return out
	}

	var d models.DriverProfile
	if driver != nil && driver.Driver != nil {
		d = *driver.Driver
	} else {
		b.advise(models.AdvisoryUnverifiedPlaceholder, "personnel[0]", "no driver assigned; operator entry is a placeholder")
	}

	residence := models.WaybillAddress{Country: DefaultCountry}
	if d.FiscalResidence != nil {
		r := d.FiscalResidence
		residence = models.WaybillAddress{
			Formatted:    r.Address,
			Street:       r.Street,
			Neighborhood: r.Neighborhood,
			Municipality: r.Municipality,
			State:        r.State,
			Country:      r.Country,
			PostalCode:   r.PostalCode,
		}
		if residence.PostalCode == "" {
			residence.PostalCode = ParsePostalCode(r.Address)
		}
		if residence.Country == "" {
			residence.Country = DefaultCountry
		}
	}

	return []models.PersonnelEntry{{
		Role:            OperatorRole,
		TaxID:           orDefault(d.TaxID, Placeholder),
		Name:            orDefault(d.Name, Placeholder),
		LicenseNumber:   orDefault(d.LicenseNumber, Placeholder),
		CURP:            orDefault(d.CURP, Placeholder),
		FiscalResidence: residence,
	}}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
