// Package canon implements the deterministic canonicalization chokepoint
// where untyped text meets the typed SPO store: subject/predicate
// normalization, unit-aware numeric comparison, and the content fingerprint
// that uniquely identifies a triple.
//
// Every ingest path routes through this package, so its rules are kept
// small, explicit, and table-driven rather than folded into FactStore.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/sovereign-research/orchestrator/internal/types"
)

// synonyms maps informal relation/entity spellings to a single canonical
// token. Real deployments would load this from a configuration source; the
// kernel ships a small seed table sufficient for the ingest path.
var synonyms = map[string]string{
	"annual production": "annualproduction",
	"yearly output":      "annualproduction",
	"cost":                "cost",
	"price":               "price",
	"mtbf":                "mtbf",
	"roi":                 "roi",
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeText case-folds, collapses whitespace, and applies the synonym
// table to a subject or predicate string.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRE.ReplaceAllString(s, " ")
	if canon, ok := synonyms[s]; ok {
		s = canon
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return ""
	}
	return types.SubjectInterner.Intern(s)
}

// NormalizePredicate is NormalizeText interned into the predicate pool so
// that identical predicates from different subjects still dedupe.
func NormalizePredicate(s string) string {
	norm := NormalizeText(s)
	return types.PredicateInterner.Intern(norm)
}

// unitAliases maps informal unit spellings onto one canonical token so that
// "kWh/Jahr" and "kWh/yr" compare equal after normalization.
var unitAliases = map[string]string{
	"kwh/jahr": "kwh/yr",
	"kwh/yr":   "kwh/yr",
	"kwh/year": "kwh/yr",
	"eur/kwh":  "eur/kwh",
	"€/kwh":    "eur/kwh",
	"h":        "h",
	"hours":    "h",
	"years":    "years",
	"year":     "years",
	"yrs":      "years",
	"eur":      "eur",
	"€":        "eur",
}

// NormalizeUnit canonicalizes a unit token.
func NormalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if canon, ok := unitAliases[u]; ok {
		return canon
	}
	return u
}

var numericRE = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// NumericValue extracts the numeric part of an object literal, e.g.
// "4,500" -> 4500. ok is false if the object has no parseable numeric prefix.
func NumericValue(object string) (value float64, ok bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(object), ",", "")
	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return 0, false
	}
	candidate := fields[0]
	if !numericRE.MatchString(candidate) {
		return 0, false
	}
	v, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizedObjectKey returns the key used to compare two objects for
// fingerprint purposes: numeric objects compare by (value, canonical unit);
// everything else compares by normalized text.
func NormalizedObjectKey(object, unit string) string {
	if v, ok := NumericValue(object); ok {
		return strconv.FormatFloat(v, 'f', -1, 64) + "|" + NormalizeUnit(unit)
	}
	return NormalizeText(object)
}

// Fingerprint computes the content hash over normalized (subject, predicate,
// object, primary source) that uniquely identifies a triple. It is the sole
// key FactStore uses to detect duplicates and enforce fingerprint uniqueness.
func Fingerprint(subject, predicate, object, unit, primarySource string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeText(subject)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizePredicate(predicate)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizedObjectKey(object, unit)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(primarySource)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Divergence returns the relative numerical divergence between two numeric
// objects sharing a unit, i.e. |a-b| / max(|a|,|b|). ok is false if either
// value is non-numeric or the units don't match after normalization.
func Divergence(objectA, unitA, objectB, unitB string) (divergence float64, ok bool) {
	va, okA := NumericValue(objectA)
	vb, okB := NumericValue(objectB)
	if !okA || !okB {
		return 0, false
	}
	if NormalizeUnit(unitA) != NormalizeUnit(unitB) {
		return 0, false
	}
	denom := va
	if absF(vb) > absF(va) {
		denom = vb
	}
	if denom == 0 {
		if va == vb {
			return 0, true
		}
		return 1, true
	}
	return absF(va-vb) / absF(denom), true
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
