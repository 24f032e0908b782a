package canon

import "testing"

func TestNormalizeText(t *testing.T) {
	if NormalizeText("  Solar   Kit ") != "solarkit" {
		t.Fatalf("unexpected normalization: %q", NormalizeText("  Solar   Kit "))
	}
	if NormalizeText("Annual Production") != NormalizeText("Yearly Output") {
		t.Fatalf("synonym table should unify annual production / yearly output")
	}
}

func TestFingerprintSharedAcrossUnitSpellings(t *testing.T) {
	fp1 := Fingerprint("SolarKit", "AnnualProduction", "4,500", "kWh/Jahr", "calc")
	fp2 := Fingerprint("SolarKit", "AnnualProduction", "4500", "kWh/yr", "calc")
	if fp1 != fp2 {
		t.Fatalf("expected equal fingerprints for unit-normalized duplicates, got %s vs %s", fp1, fp2)
	}
}

func TestFingerprintDiffersOnSource(t *testing.T) {
	fp1 := Fingerprint("SolarKit", "Cost", "15000", "EUR", "calc")
	fp2 := Fingerprint("SolarKit", "Cost", "15000", "EUR", "forum")
	if fp1 == fp2 {
		t.Fatalf("fingerprint must incorporate primary source")
	}
}

func TestDivergenceBoundary(t *testing.T) {
	d, ok := Divergence("7.94", "years", "7.9", "years")
	if !ok {
		t.Fatal("expected numeric divergence to be computable")
	}
	if d > 0.05 {
		t.Fatalf("expected divergence under 5%%, got %v", d)
	}

	d2, ok := Divergence("100", "h", "95.1", "h")
	if !ok {
		t.Fatal("expected numeric divergence to be computable")
	}
	if d2 >= 0.05 {
		t.Fatalf("expected 4.9%% divergence to read under 5%%, got %v", d2)
	}

	d3, ok := Divergence("100", "h", "94.9", "h")
	if !ok {
		t.Fatal("expected numeric divergence to be computable")
	}
	if d3 < 0.05 {
		t.Fatalf("expected 5.1%% divergence to read at or above 5%%, got %v", d3)
	}
}

func TestDivergenceUnitMismatch(t *testing.T) {
	if _, ok := Divergence("100", "h", "100", "years"); ok {
		t.Fatal("expected mismatched units to be non-comparable")
	}
}

func TestNumericValue(t *testing.T) {
	v, ok := NumericValue("4,500 kWh")
	if !ok || v != 4500 {
		t.Fatalf("expected 4500, got %v ok=%v", v, ok)
	}
	if _, ok := NumericValue("good"); ok {
		t.Fatal("expected non-numeric object to fail parse")
	}
}
