package spo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAcceptsWellFormedFacts(t *testing.T) {
	text := `STEP: The kit performs well in the field.
FACT: SolarKit | AnnualProduction | 4500 | kWh/yr
FACT: SolarKit | ROI | 7.9 years
FACT: InverterX | Warranty | comprehensive coverage`

	facts, rejections := ExtractFromText(text)
	require.Len(t, facts, 3)
	assert.Empty(t, rejections)

	assert.Equal(t, Fact{Subject: "SolarKit", Predicate: "AnnualProduction", Object: "4500", Unit: "kWh/yr"}, facts[0])
	// Inline unit splits off the numeric object.
	assert.Equal(t, Fact{Subject: "SolarKit", Predicate: "ROI", Object: "7.9", Unit: "years"}, facts[1])
	assert.Empty(t, facts[2].Unit)
}

func TestExtractRejections(t *testing.T) {
	text := `FACT: it | Cost | 15000 | EUR
FACT: SolarKit | Cost | 15000
FACT: SolarKit | Quality | good
FACT: only two | fields`

	facts, rejections := ExtractFromText(text)
	assert.Empty(t, facts)
	require.Len(t, rejections, 4)
	assert.Equal(t, "pronoun subject", rejections[0].Reason)
	assert.Equal(t, "numeric object lacks a unit", rejections[1].Reason)
	assert.Equal(t, "verdict-laden adjective in object", rejections[2].Reason)
}

func TestDomainDerivation(t *testing.T) {
	f := Fact{Subject: "SolarKit", Predicate: "ROI", Object: "7.9", Unit: "years"}
	domain := f.Domain()
	assert.Equal(t, 7.9, domain["roi"])
	assert.Equal(t, 7.9, domain["roi_years"])

	textual := Fact{Subject: "InverterX", Predicate: "Warranty", Object: "comprehensive"}
	assert.Empty(t, textual.Domain())
}
