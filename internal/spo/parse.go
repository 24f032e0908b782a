// Package spo parses Subject-Predicate-Object facts out of model-produced
// reasoning text. This is the typed boundary the design notes call out: free
// text becomes either a parsed fact, a rejected fact with a reason, or plain
// prose that never enters the store.
package spo

import (
	"regexp"
	"strings"

	"github.com/sovereign-research/orchestrator/internal/canon"
)

// Fact is one successfully parsed SPO statement, not yet a stored triple:
// fingerprinting and provenance happen at FactStore ingest.
type Fact struct {
	Subject   string
	Predicate string
	Object    string
	Unit      string
}

// Rejection explains why a candidate fact was refused at parse time.
type Rejection struct {
	Line   string
	Reason string
}

// pronouns are refused as subjects: a fact about "it" grounds nothing.
var pronouns = map[string]bool{
	"it": true, "he": true, "she": true, "they": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "we": true,
	"you": true,
}

// verdictAdjectives are opinion words refused in the object slot; the store
// holds facts, the axiom layer holds judgments.
var verdictAdjectives = map[string]bool{
	"good": true, "bad": true, "great": true, "poor": true, "cheap": true,
	"expensive": true, "best": true, "worst": true, "nice": true,
	"terrible": true, "excellent": true,
}

// factLineRE matches the pipe-delimited fact notation variants emit:
// "FACT: subject | predicate | object" with an optional trailing unit field.
var factLineRE = regexp.MustCompile(`(?i)^\s*FACT:\s*(.+)$`)

// ExtractFromText scans text line by line for fact notation and returns the
// accepted facts alongside the rejections. Rejections are reported, never
// fatal: a variant with unparseable facts still expands.
func ExtractFromText(text string) ([]Fact, []Rejection) {
	var facts []Fact
	var rejections []Rejection
	for _, line := range strings.Split(text, "\n") {
		m := factLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fact, reason := parseFactBody(m[1])
		if reason != "" {
			rejections = append(rejections, Rejection{Line: strings.TrimSpace(line), Reason: reason})
			continue
		}
		facts = append(facts, fact)
	}
	return facts, rejections
}

// parseFactBody validates one "subject | predicate | object [| unit]" body.
func parseFactBody(body string) (Fact, string) {
	parts := strings.Split(body, "|")
	if len(parts) < 3 || len(parts) > 4 {
		return Fact{}, "expected subject | predicate | object [| unit]"
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	subject, predicate, object := parts[0], parts[1], parts[2]
	unit := ""
	if len(parts) == 4 {
		unit = parts[3]
	}

	if subject == "" || predicate == "" || object == "" {
		return Fact{}, "empty field"
	}
	if pronouns[strings.ToLower(subject)] {
		return Fact{}, "pronoun subject"
	}

	// A numeric object may carry its unit inline ("7.9 years").
	if unit == "" {
		if fields := strings.Fields(object); len(fields) > 1 {
			if _, ok := canon.NumericValue(fields[0]); ok {
				unit = strings.Join(fields[1:], " ")
				object = fields[0]
			}
		}
	}

	if _, numeric := canon.NumericValue(object); numeric && unit == "" {
		return Fact{}, "numeric object lacks a unit"
	}
	for _, word := range strings.Fields(strings.ToLower(object)) {
		if verdictAdjectives[strings.Trim(word, ".,!")] {
			return Fact{}, "verdict-laden adjective in object"
		}
	}

	return Fact{Subject: subject, Predicate: predicate, Object: object, Unit: unit}, ""
}

// Domain converts a parsed numeric fact into the named-field map the axiom
// validators operate on, mirroring the claim derivation used for stored
// triples.
func (f Fact) Domain() map[string]float64 {
	domain := map[string]float64{}
	if v, ok := canon.NumericValue(f.Object); ok {
		predicate := canon.NormalizePredicate(f.Predicate)
		domain[predicate] = v
		if unit := canon.NormalizeUnit(f.Unit); unit != "" {
			domain[predicate+"_"+sanitizeFieldToken(unit)] = v
		}
	}
	return domain
}

func sanitizeFieldToken(s string) string {
	s = strings.ReplaceAll(s, "/", "_per_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
