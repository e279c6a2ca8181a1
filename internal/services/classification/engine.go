// Package classification turns free-text cargo descriptions into structured line items
// using a data-driven keyword ruleset.
package classification

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
)

var (
	quantityRe    = regexp.MustCompile(`(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d+)?)\s*([a-z]+)`)
	groupedRe     = regexp.MustCompile(`^(\d{1,3}(?:[.,]\d{3})+)(?:[.,](\d{1,2}))?$`)
	conjunctionRe = regexp.MustCompile(`(?i)\s+(?:y|e|and)\s+`)
)

var stopwords = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "las": {}, "el": {}, "los": {},
	"con": {}, "en": {}, "para": {}, "a": {}, "al": {}, "of": {},
}

type Classification struct {
	Items      []models.CargoLineItem
	Advisories []models.Advisory
}

type Engine struct {
	rules *Ruleset
}

func NewEngine(rs *Ruleset) *Engine {
	return &Engine{rules: rs}
}

// Classify resolves cargo line items. Itemized input wins over the description and is returned as manual.
func (e *Engine) Classify(raw string, itemized []models.CargoLineItem) Classification {
	if len(itemized) > 0 {
		items := make([]models.CargoLineItem, len(itemized))
		copy(items, itemized)
		for i := range items {
			items[i].Provenance = models.ProvenanceManual
			metrics.ClassifiedItems.WithLabelValues(string(models.ProvenanceManual), "").Inc()
		}
		return Classification{Items: items}
	}

	text := strings.TrimSpace(raw)
	var out Classification
	if segments := e.splitProducts(text); len(segments) >= 2 {
		for i, seg := range segments {
			item, adv := e.classifyOne(seg, fmt.Sprintf("cargo[%d]", i))
			out.Items = append(out.Items, item)
			out.Advisories = append(out.Advisories, adv...)
		}
	} else {
		item, adv := e.classifyOne(text, "cargo")
		out.Items = append(out.Items, item)
		out.Advisories = append(out.Advisories, adv...)
	}
	for _, it := range out.Items {
		metrics.ClassifiedItems.WithLabelValues(string(it.Provenance), string(it.Confidence)).Inc()
	}
	return out
}

type ruleMatch struct {
	rule  *Rule
	index int
	hits  int
	chars int
}

// better orders candidates: more keywords, then longer matched text, then priority, then table order.
func (a ruleMatch) better(b ruleMatch) bool {
	if a.hits != b.hits {
		return a.hits > b.hits
	}
	if a.chars != b.chars {
		return a.chars > b.chars
	}
	if a.rule.Priority != b.rule.Priority {
		return a.rule.Priority > b.rule.Priority
	}
	return a.index < b.index
}

func (e *Engine) match(tokens []string) []ruleMatch {
	var out []ruleMatch
	for i := range e.rules.Rules {
		r := &e.rules.Rules[i]
		m := ruleMatch{rule: r, index: i}
		for _, term := range r.terms {
			if containsPhrase(tokens, term) {
				m.hits++
				for _, t := range term {
					m.chars += len(t)
				}
			}
		}
		if m.hits > 0 {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].better(out[j]) })
	return out
}

func (e *Engine) classifyOne(desc, field string) (models.CargoLineItem, []models.Advisory) {
	folded := foldText(desc)
	qty, massKg := e.quantity(folded)

	item := models.CargoLineItem{
		Description: desc,
		Quantity:    qty,
		Currency:    e.rules.Currency,
		Provenance:  models.ProvenanceInferred,
	}

	matches := e.match(tokenize(folded))
	if len(matches) == 0 {
		fb := e.rules.Fallback
		if item.Description == "" {
			item.Description = fb.Description
		}
		item.UnitOfMeasure = fb.Unit
		item.ClassificationCode = fb.ClassificationCode
		item.TariffCode = fb.TariffCode
		item.EstimatedWeightKg = e.weight(qty, massKg, fb.AvgUnitWeightKg)
		item.EstimatedValue = e.value(item.EstimatedWeightKg, 0)
		item.Confidence = models.ConfidenceLow
		item.MatchedRule = fb.Name
		return item, []models.Advisory{{
			Code:    models.AdvisoryFallbackClassification,
			Field:   field,
			Message: fmt.Sprintf("no classification rule matched %q; generic code %s used", item.Description, fb.ClassificationCode),
		}}
	}

	best := matches[0]
	r := best.rule
	item.UnitOfMeasure = r.Unit
	item.ClassificationCode = r.ClassificationCode
	item.TariffCode = r.TariffCode
	item.Hazardous = r.Hazardous
	item.ProtectedSpecies = r.ProtectedSpecies
	item.EstimatedWeightKg = e.weight(qty, massKg, r.AvgUnitWeightKg)
	item.EstimatedValue = e.value(item.EstimatedWeightKg, r.ValuePerKg)
	item.MatchedRule = r.Name
	item.Confidence = models.ConfidenceHigh

	if len(matches) > 1 && matches[1].hits == best.hits && matches[1].chars == best.chars {
		item.Confidence = models.ConfidenceMedium
		return item, []models.Advisory{{
			Code:  models.AdvisoryAmbiguousClassification,
			Field: field,
			Message: fmt.Sprintf("%q matches %s and %s equally; %s chosen",
				desc, r.Name, matches[1].rule.Name, r.Name),
		}}
	}
	return item, nil
}

// quantity extracts the first "<number> <unit-word>" mention. massKg is non-zero for mass units.
func (e *Engine) quantity(folded string) (qty, massKg float64) {
	for _, m := range quantityRe.FindAllStringSubmatch(folded, -1) {
		mass, ok := e.rules.unitMass[m[2]]
		if !ok {
			continue
		}
		n, err := parseNumber(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return n, mass
	}
	return 1, 0
}

func (e *Engine) weight(qty, massKg, avgUnitKg float64) float64 {
	if massKg > 0 {
		return round2(qty * massKg)
	}
	return round2(qty * avgUnitKg)
}

func (e *Engine) value(weightKg, perKg float64) float64 {
	if perKg <= 0 {
		perKg = e.rules.ValuePerKg
	}
	return round2(math.Max(weightKg*perKg, e.rules.ValueFloor))
}

// splitProducts returns one segment per product when the text lists several distinct products,
// each with its own quantity. Otherwise it returns nil.
func (e *Engine) splitProducts(text string) []string {
	var segments []string
	for _, part := range splitSeparators(text) {
		for _, s := range conjunctionRe.Split(part, -1) {
			if s = strings.TrimSpace(s); s != "" {
				segments = append(segments, s)
			}
		}
	}
	if len(segments) < 2 {
		return nil
	}

	nouns := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		folded := foldText(seg)
		if !e.hasUnitMention(folded) {
			return nil
		}
		noun := e.productNoun(folded)
		if noun == "" {
			return nil
		}
		if _, dup := nouns[noun]; dup {
			return nil
		}
		nouns[noun] = struct{}{}
	}
	return segments
}

func (e *Engine) hasUnitMention(folded string) bool {
	for _, m := range quantityRe.FindAllStringSubmatch(folded, -1) {
		if e.rules.isUnitWord(m[2]) {
			return true
		}
	}
	return false
}

func (e *Engine) productNoun(folded string) string {
	var words []string
	for _, t := range tokenize(folded) {
		t = strings.Trim(t, ".")
		if t == "" || isNumber(t) || e.rules.isUnitWord(t) {
			continue
		}
		if _, ok := stopwords[t]; ok {
			continue
		}
		words = append(words, t)
	}
	return strings.Join(words, " ")
}

// splitSeparators splits on ; + newline and on commas that are not decimal separators.
func splitSeparators(text string) []string {
	rs := []rune(text)
	var parts []string
	start := 0
	for i, r := range rs {
		split := false
		switch r {
		case ';', '+', '\n':
			split = true
		case ',':
			split = !(i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]))
		}
		if split {
			parts = append(parts, string(rs[start:i]))
			start = i + 1
		}
	}
	return append(parts, string(rs[start:]))
}

// parseNumber reads "1,500" and "12.000,5" as thousands groups and "2,5" as a decimal comma.
func parseNumber(s string) (float64, error) {
	if m := groupedRe.FindStringSubmatch(s); m != nil {
		n := strings.NewReplacer(",", "", ".", "").Replace(m[1])
		if m[2] != "" {
			n += "." + m[2]
		}
		return strconv.ParseFloat(n, 64)
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func isNumber(s string) bool {
	_, err := parseNumber(s)
	return err == nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
