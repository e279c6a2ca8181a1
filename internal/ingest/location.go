// Package ingest converts inbound location payloads to the canonical models.Location.
//
// Two payload schemas are accepted:
//
//	v2  canonical: address, country, state, municipality, neighborhood, street, postalCode, coordinates, scheduledAt
//	v1  legacy flat form with historical spellings (direccion/domicilio, cp/codigo_postal/zip, estado, ...)
//
// A payload declares its schema with "schemaVersion"; without it, the presence of any v1 key selects v1.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

const (
	SchemaV1 = 1
	SchemaV2 = 2
)

var legacyKeys = []string{
	"direccion", "domicilio", "cp", "codigo_postal", "zip", "estado", "municipio",
	"colonia", "calle", "pais", "latitud", "longitud", "fecha", "fecha_hora", "distancia_recorrida",
}

var legacyTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

type locationV1 struct {
	Direccion    string   `json:"direccion"`
	Domicilio    string   `json:"domicilio"`
	CP           string   `json:"cp"`
	CodigoPostal string   `json:"codigo_postal"`
	Zip          string   `json:"zip"`
	Estado       string   `json:"estado"`
	Municipio    string   `json:"municipio"`
	Colonia      string   `json:"colonia"`
	Calle        string   `json:"calle"`
	Pais         string   `json:"pais"`
	Latitud      *float64 `json:"latitud"`
	Longitud     *float64 `json:"longitud"`
	Fecha        string   `json:"fecha"`
	FechaHora    string   `json:"fecha_hora"`
	Distancia    *float64 `json:"distancia_recorrida"`
}

// DecodeLocation returns nil for an absent or null payload. field names the payload in advisories.
func DecodeLocation(raw json.RawMessage, field string) (*models.Location, []models.Advisory, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, nil, errors.Wrapf(err, "%s: decode location", field)
	}

	version, err := schemaVersion(keys)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s", field)
	}

	switch version {
	case SchemaV2:
		var loc models.Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, nil, errors.Wrapf(err, "%s: decode location", field)
		}
		return &loc, nil, nil
	case SchemaV1:
		var v1 locationV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return nil, nil, errors.Wrapf(err, "%s: decode legacy location", field)
		}
		loc, err := v1.toCanonical()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "%s", field)
		}
		return loc, []models.Advisory{{
			Code:    models.AdvisoryLegacyAddress,
			Field:   field,
			Message: "legacy address payload converted to the canonical schema",
		}}, nil
	}
	return nil, nil, fmt.Errorf("%s: unsupported schemaVersion %d", field, version)
}

func schemaVersion(keys map[string]json.RawMessage) (int, error) {
	if v, ok := keys["schemaVersion"]; ok {
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			return 0, errors.Wrap(err, "schemaVersion")
		}
		return n, nil
	}
	for _, k := range legacyKeys {
		if _, ok := keys[k]; ok {
			return SchemaV1, nil
		}
	}
	return SchemaV2, nil
}

func (v locationV1) toCanonical() (*models.Location, error) {
	loc := &models.Location{
		Address:            firstNonEmpty(v.Direccion, v.Domicilio),
		Country:            v.Pais,
		State:              v.Estado,
		Municipality:       v.Municipio,
		Neighborhood:       v.Colonia,
		Street:             v.Calle,
		PostalCode:         firstNonEmpty(v.CodigoPostal, v.CP, v.Zip),
		DistanceTraveledKm: v.Distancia,
	}
	if v.Latitud != nil && v.Longitud != nil {
		loc.Coordinates = &models.GeoPoint{Lat: *v.Latitud, Lng: *v.Longitud}
	}
	if s := firstNonEmpty(v.FechaHora, v.Fecha); s != "" {
		t, err := parseLegacyTime(s)
		if err != nil {
			return nil, err
		}
		loc.ScheduledAt = t
	}
	return loc, nil
}

func parseLegacyTime(s string) (time.Time, error) {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
