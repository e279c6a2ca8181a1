package models

type Provenance string

const (
	ProvenanceManual   Provenance = "manual"
	ProvenanceInferred Provenance = "inferred"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type CargoLineItem struct {
	Description        string  `json:"description"`
	Quantity           float64 `json:"quantity"`
	UnitOfMeasure      string  `json:"unitOfMeasure"`
	ClassificationCode string  `json:"classificationCode"`
	TariffCode         string  `json:"tariffCode,omitempty"`
	EstimatedWeightKg  float64 `json:"estimatedWeightKg"`
	EstimatedValue     float64 `json:"estimatedValue"`
	Currency           string  `json:"currency"`
	Hazardous          bool    `json:"hazardous"`
	ProtectedSpecies   bool    `json:"protectedSpecies"`

	Provenance Provenance `json:"provenance"`
	// Confidence and MatchedRule are set only for inferred items.
	Confidence  Confidence `json:"confidence,omitempty"`
	MatchedRule string     `json:"matchedRule,omitempty"`
}

type AdvisoryCode string

const (
	AdvisoryFallbackClassification  AdvisoryCode = "fallback_classification"
	AdvisoryAmbiguousClassification AdvisoryCode = "ambiguous_classification"
	AdvisoryDefaultCargo            AdvisoryCode = "default_cargo_synthesized"
	AdvisoryPostalCodeMissing       AdvisoryCode = "postal_code_missing"
	AdvisoryUnverifiedPlaceholder   AdvisoryCode = "unverified_placeholder"
	AdvisoryAvailabilityWarning     AdvisoryCode = "availability_warning"
	AdvisoryLegacyAddress           AdvisoryCode = "legacy_address_adapted"
)

// Advisory is a human-readable, non-blocking signal for the operator.
type Advisory struct {
	Code    AdvisoryCode `json:"code"`
	Field   string       `json:"field,omitempty"`
	Message string       `json:"message"`
}
