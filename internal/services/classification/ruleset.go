package classification

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

//go:embed default_rules.yaml
var defaultRules []byte

// GenericTariffCode fills the fallback tariff code when a ruleset leaves it empty.
const GenericTariffCode = "98020001"

type Rule struct {
	Name               string   `yaml:"name"`
	Priority           int      `yaml:"priority"`
	Keywords           []string `yaml:"keywords"`
	ClassificationCode string   `yaml:"classification_code"`
	TariffCode         string   `yaml:"tariff_code"`
	Unit               string   `yaml:"unit"`
	AvgUnitWeightKg    float64  `yaml:"avg_unit_weight_kg"`
	ValuePerKg         float64  `yaml:"value_per_kg"`
	Hazardous          bool     `yaml:"hazardous"`
	ProtectedSpecies   bool     `yaml:"protected_species"`

	terms [][]string
}

type FallbackRule struct {
	Name               string  `yaml:"name"`
	Description        string  `yaml:"description"`
	ClassificationCode string  `yaml:"classification_code"`
	TariffCode         string  `yaml:"tariff_code"`
	Unit               string  `yaml:"unit"`
	AvgUnitWeightKg    float64 `yaml:"avg_unit_weight_kg"`
}

type UnitWord struct {
	Words  []string `yaml:"words"`
	MassKg float64  `yaml:"mass_kg"`
}

type Ruleset struct {
	Version    int          `yaml:"version"`
	Currency   string       `yaml:"currency"`
	ValuePerKg float64      `yaml:"value_per_kg"`
	ValueFloor float64      `yaml:"value_floor"`
	Fallback   FallbackRule `yaml:"fallback"`
	Units      []UnitWord   `yaml:"units"`
	Rules      []Rule       `yaml:"rules"`

	// folded unit word -> kilograms per unit, 0 for count units
	unitMass map[string]float64
}

// DefaultRuleset returns the ruleset compiled into the binary.
func DefaultRuleset() (*Ruleset, error) {
	return ParseRuleset(defaultRules)
}

// LoadRuleset reads an external ruleset; an empty path yields the default one.
func LoadRuleset(path string) (*Ruleset, error) {
	if path == "" {
		return DefaultRuleset()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read ruleset")
	}
	return ParseRuleset(data)
}

func ParseRuleset(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, errors.Wrap(err, "unmarshal ruleset")
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *Ruleset) compile() error {
	if rs.Fallback.ClassificationCode == "" {
		return fmt.Errorf("ruleset: fallback classification_code is required")
	}
	if rs.Fallback.TariffCode == "" {
		rs.Fallback.TariffCode = GenericTariffCode
	}
	if rs.Fallback.Unit == "" {
		rs.Fallback.Unit = "H87"
	}
	if rs.Fallback.Description == "" {
		rs.Fallback.Description = "Mercancia general"
	}
	if rs.Currency == "" {
		rs.Currency = "MXN"
	}

	rs.unitMass = make(map[string]float64)
	for _, u := range rs.Units {
		for _, w := range u.Words {
			rs.unitMass[foldText(w)] = u.MassKg
		}
	}

	seen := make(map[string]struct{}, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Name == "" {
			return fmt.Errorf("ruleset: rule #%d has no name", i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("ruleset: duplicate rule %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.ClassificationCode == "" {
			return fmt.Errorf("ruleset: rule %q has no classification_code", r.Name)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("ruleset: rule %q has no keywords", r.Name)
		}
		if r.Unit == "" {
			r.Unit = rs.Fallback.Unit
		}
		if r.TariffCode == "" {
			r.TariffCode = rs.Fallback.TariffCode
		}
		r.terms = r.terms[:0]
		for _, kw := range r.Keywords {
			if t := tokenize(foldText(kw)); len(t) > 0 {
				r.terms = append(r.terms, t)
			}
		}
	}
	return nil
}

func (rs *Ruleset) isUnitWord(w string) bool {
	_, ok := rs.unitMass[w]
	return ok
}
