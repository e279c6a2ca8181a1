package mapper

import (
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func baseInput() Input {
	dep := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return Input{
		Trip: models.Trip{
			ID:          "trip-1",
			AccountID:   "acc-1",
			Origin:      &models.Location{Address: "Av. Insurgentes Sur 1000, Del Valle, CDMX, C.P. 03100", ScheduledAt: dep},
			Destination: &models.Location{Address: "Guadalajara", State: "Jalisco", PostalCode: "44100", ScheduledAt: dep.Add(8 * time.Hour)},
			DistanceKm:  ptr(540.0),
		},
		Resources: Resources{
			Driver: &models.Resource{ID: "drv-1", Kind: models.ResourceDriver, Driver: &models.DriverProfile{
				Name: "Juan Perez", TaxID: "PEJJ800101AAA", LicenseNumber: "LF123",
			}},
			Vehicle: &models.Resource{ID: "veh-1", Kind: models.ResourceVehicle, Vehicle: &models.VehicleProfile{
				Plate: "AB1234C", Configuration: "T3S2", ModelYear: 2021, GrossWeightT: 41,
				PermitType: "TPAF01", PermitNumber: "P-77",
				CivilLiabilityInsurer: "Qualitas", CivilLiabilityPolicy: "POL-1",
			}},
		},
		Partner: &models.Resource{ID: "par-1", Kind: models.ResourcePartner, Partner: &models.PartnerProfile{
			Name: "Aguacates del Sur", TaxID: "ASU010101AB1", TaxRegime: "601", PostalCode: "58000",
		}},
		Cargo: []models.CargoLineItem{
			{Description: "20 toneladas de aguacate", Quantity: 20, UnitOfMeasure: "KGM", EstimatedWeightKg: 20000},
		},
		Emitter: models.FiscalParty{TaxID: "EMI010101AAA", Name: "Transportes Demo"},
	}
}

func TestMap_Complete(t *testing.T) {
	doc, adv, err := Map(baseInput())
	require.NoError(t, err)
	require.Empty(t, adv)

	require.Equal(t, DocumentVersion, doc.Version)
	require.Equal(t, 540.0, doc.TotalDistanceKm)
	require.Equal(t, "ASU010101AB1", doc.Receiver.TaxID)
	require.Equal(t, "601", doc.Receiver.TaxRegime)

	require.Len(t, doc.Locations, 2)
	o, d := doc.Locations[0], doc.Locations[1]
	require.Equal(t, models.LocationOrigin, o.Kind)
	require.Equal(t, "03100", o.Address.PostalCode)
	require.Equal(t, "Av. Insurgentes Sur 1000", o.Address.Street)
	require.Equal(t, "MEX", o.Address.Country)
	require.Equal(t, "EMI010101AAA", o.TaxID)
	require.Equal(t, models.LocationDestination, d.Kind)
	require.Equal(t, "44100", d.Address.PostalCode)
	require.Equal(t, 540.0, d.DistanceTraveledKm)

	require.Equal(t, 1, doc.Goods.ItemCount)
	require.Equal(t, 20000.0, doc.Goods.TotalWeightKg)
	require.Equal(t, "T3S2", doc.TransportUnit.Vehicle.Configuration)
	require.Empty(t, doc.TransportUnit.Unverified)
	require.Empty(t, doc.TransportUnit.Trailers)

	require.Len(t, doc.Personnel, 1)
	require.Equal(t, "PEJJ800101AAA", doc.Personnel[0].TaxID)
	require.Equal(t, Placeholder, doc.Personnel[0].CURP)
	require.Equal(t, "MEX", doc.Personnel[0].FiscalResidence.Country)
}

func TestMap_MissingLocationsAndReceiver(t *testing.T) {
	in := baseInput()
	in.Trip.Origin = nil
	_, _, err := Map(in)
	var me *errs.MappingError
	require.True(t, errors.As(err, &me))
	require.Equal(t, "origin", me.Field)

	in = baseInput()
	in.Trip.Destination = &models.Location{}
	_, _, err = Map(in)
	require.True(t, errors.As(err, &me))
	require.Equal(t, "destination", me.Field)

	in = baseInput()
	in.Partner.Partner.TaxID = ""
	_, _, err = Map(in)
	require.True(t, errors.As(err, &me))
	require.Equal(t, "receiver.taxId", me.Field)

	in = baseInput()
	in.Partner = nil
	_, _, err = Map(in)
	require.True(t, errors.As(err, &me))
}

func TestMap_DegradesToDefaults(t *testing.T) {
	in := baseInput()
	in.Trip.DistanceKm = nil
	in.Trip.Destination.DistanceTraveledKm = ptr(120.5)
	in.Trip.Origin = &models.Location{Address: "CDMX"}
	in.Resources.Vehicle.Vehicle.CivilLiabilityPolicy = ""
	in.Resources.Vehicle.Vehicle.PermitNumber = ""
	in.Resources.Trailer = &models.Resource{ID: "trl-1", Kind: models.ResourceTrailer, Trailer: &models.TrailerProfile{Plate: "TR9"}}
	in.Cargo = nil

	doc, adv, err := Map(in)
	require.NoError(t, err)

	require.Equal(t, 120.5, doc.TotalDistanceKm)
	require.Equal(t, "", doc.Locations[0].Address.PostalCode)

	require.Equal(t, Placeholder, doc.TransportUnit.PermitNumber)
	require.Equal(t, Placeholder, doc.TransportUnit.Insurance.CivilLiabilityPolicy)
	require.Len(t, doc.TransportUnit.Trailers, 1)
	require.Equal(t, "TR9", doc.TransportUnit.Trailers[0].Plate)
	require.Equal(t, DefaultTrailerSubtype, doc.TransportUnit.Trailers[0].Subtype)
	require.ElementsMatch(t, []string{
		"transportUnit.permitNumber",
		"transportUnit.insurance.civilLiabilityPolicy",
		"transportUnit.trailers[0].subtype",
	}, doc.TransportUnit.Unverified)

	require.Equal(t, 1, doc.Goods.ItemCount)
	require.Equal(t, "01010101", doc.Goods.Items[0].ClassificationCode)
	require.Equal(t, DefaultTariffCode, doc.Goods.Items[0].TariffCode)

	codes := map[models.AdvisoryCode]int{}
	for _, a := range adv {
		codes[a.Code]++
	}
	require.Equal(t, 1, codes[models.AdvisoryPostalCodeMissing])
	require.Equal(t, 1, codes[models.AdvisoryDefaultCargo])
	require.Equal(t, 1, codes[models.AdvisoryUnverifiedPlaceholder])
	require.Equal(t, adv, doc.Advisories)
}

func TestMap_DistanceFallsBackToZero(t *testing.T) {
	in := baseInput()
	in.Trip.DistanceKm = nil
	doc, _, err := Map(in)
	require.NoError(t, err)
	require.Zero(t, doc.TotalDistanceKm)
}

func TestMap_PersonnelUsedAsIs(t *testing.T) {
	in := baseInput()
	in.Personnel = []models.PersonnelEntry{
		{Role: "01", TaxID: "AAA", Name: "Uno"},
		{Role: "01", TaxID: "BBB", Name: "Dos"},
	}
	doc, _, err := Map(in)
	require.NoError(t, err)
	require.Equal(t, in.Personnel, doc.Personnel)
}

func TestMap_NoDriverPlaceholderOperator(t *testing.T) {
	in := baseInput()
	in.Resources.Driver = nil
	doc, adv, err := Map(in)
	require.NoError(t, err)
	require.Len(t, doc.Personnel, 1)
	require.Equal(t, Placeholder, doc.Personnel[0].Name)
	require.Len(t, adv, 1)
	require.Equal(t, "personnel[0]", adv[0].Field)
}

func TestParsePostalCode(t *testing.T) {
	require.Equal(t, "06600", ParsePostalCode("Reforma 222, Juarez, C.P. 06600, CDMX"))
	require.Equal(t, "64000", ParsePostalCode("Centro cp: 64000 Monterrey"))
	require.Equal(t, "44100", ParsePostalCode("Calle 5, 44100 Guadalajara"))
	require.Equal(t, "", ParsePostalCode("Km 12 carretera 123456"))
	require.Equal(t, "", ParsePostalCode("Av. Insurgentes Sur 12345, Col. Roma"))
	require.Equal(t, "06700", ParsePostalCode("Av. Insurgentes Sur 12345, Col. Roma, 06700 CDMX"))
	require.Equal(t, "", ParsePostalCode("12345"))
}
