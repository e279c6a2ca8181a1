package classification

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldText lowercases s and strips combining marks: "Plátano" -> "platano".
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// tokenize splits folded text into words. Decimal numbers stay whole.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
}

// containsPhrase reports whether terms occur contiguously in tokens.
func containsPhrase(tokens, terms []string) bool {
	if len(terms) == 0 || len(terms) > len(tokens) {
		return false
	}
	for i := 0; i+len(terms) <= len(tokens); i++ {
		ok := true
		for j, term := range terms {
			if strings.TrimSuffix(tokens[i+j], ".") != term {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
