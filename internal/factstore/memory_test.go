package factstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/types"
)

func newTriple(subject, predicate, object, unit, source string) *types.Triple {
	return types.NewTriple().
		Subject(subject).
		Predicate(predicate).
		Object(object).
		Unit(unit).
		Source(source).
		Build()
}

func TestInsertDeduplicatesByFingerprint(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fp1, err := s.Insert(ctx, newTriple("SolarKit", "AnnualProduction", "4,500", "kWh/Jahr", "calc"))
	require.NoError(t, err)

	// Same fact, different unit spelling and number formatting: same fingerprint.
	fp2, err := s.Insert(ctx, newTriple("SolarKit", "Annual Production", "4500", "kWh/yr", "calc"))
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	stats, err := s.StatsByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Bronze)
}

func TestInsertMergesProvenanceAndConfidence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := newTriple("InverterX", "Efficiency", "97", "%", "vendor")
	a.Confidence = 0.5
	fp, err := s.Insert(ctx, a)
	require.NoError(t, err)

	b := newTriple("InverterX", "Efficiency", "97", "%", "vendor")
	b.PrimarySource = "vendor" // same primary source, so same fingerprint
	b.Provenance = []string{"lab-report"}
	b.Confidence = 0.9
	_, err = s.Insert(ctx, b)
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"vendor", "lab-report"}, got.Provenance)
	// Same primary source: confidence keeps the existing value.
	assert.Equal(t, 0.5, got.Confidence)
}

func TestInsertRejectsMalformed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Insert(ctx, newTriple("", "Cost", "100", "EUR", "calc"))
	assert.True(t, errs.Is(err, errs.InvalidInput))

	// Bare numeric without a unit is rejected at ingest.
	_, err = s.Insert(ctx, newTriple("SolarKit", "Cost", "15000", "", "calc"))
	assert.True(t, errs.Is(err, errs.InvalidInput))
}

func TestQueryDeterministicOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	defer func() { now = time.Now }()

	low := newTriple("A", "rel", "first", "", "s1")
	low.Confidence = 0.4
	fpLow, err := s.Insert(ctx, low)
	require.NoError(t, err)

	high := newTriple("A", "rel", "second", "", "s2")
	high.Confidence = 0.9
	fpHigh, err := s.Insert(ctx, high)
	require.NoError(t, err)

	gold := newTriple("A", "rel", "third", "", "s3")
	gold.Confidence = 0.2
	fpGold, err := s.Insert(ctx, gold)
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, fpGold, types.TierGold))

	results, err := s.Query(ctx, QueryFilter{Subject: "A"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Tier desc first, then confidence desc, then creation asc.
	assert.Equal(t, fpGold, results[0].Fingerprint)
	assert.Equal(t, fpHigh, results[1].Fingerprint)
	assert.Equal(t, fpLow, results[2].Fingerprint)
}

func TestPromoteEnforcesTierMonotonicity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fp, err := s.Insert(ctx, newTriple("X", "rel", "y", "", "src"))
	require.NoError(t, err)

	require.NoError(t, s.Promote(ctx, fp, types.TierSilver))
	require.NoError(t, s.Promote(ctx, fp, types.TierSilver)) // same tier is fine

	err = s.Promote(ctx, fp, types.TierBronze)
	assert.True(t, errs.Is(err, errs.Fatal))

	got, ok, err := s.Get(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.TierSilver, got.Tier)
}

func TestRecordConflictIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fpA, err := s.Insert(ctx, newTriple("InverterX", "MTBF", "100000", "h", "vendor-datasheet"))
	require.NoError(t, err)
	fpB, err := s.Insert(ctx, newTriple("InverterX", "MTBF", "20000", "h", "user-forum"))
	require.NoError(t, err)

	id1, err := s.RecordConflict(ctx, fpA, fpB, types.ConflictNumericalMismatch)
	require.NoError(t, err)
	id2, err := s.RecordConflict(ctx, fpB, fpA, types.ConflictNumericalMismatch)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	conflicts, err := s.Conflicts(ctx, fpA)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictUnresolved, conflicts[0].Status)
}

func TestSupersedeExcludesFromDefaultQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fpOld, err := s.Insert(ctx, newTriple("SolarKit", "ROI", "8.2", "years", "forum"))
	require.NoError(t, err)
	fpNew, err := s.Insert(ctx, newTriple("SolarKit", "ROI", "7.9", "years", "merged"))
	require.NoError(t, err)

	require.NoError(t, s.Supersede(ctx, fpOld, fpNew))

	visible, err := s.Query(ctx, QueryFilter{Subject: "SolarKit"})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, fpNew, visible[0].Fingerprint)

	all, err := s.Query(ctx, QueryFilter{Subject: "SolarKit", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Superseded triples are never deleted.
	old, ok, err := s.Get(ctx, fpOld)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fpNew, old.InvalidatedBy)
}

func TestStatsByTierCountsUnresolvedConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fpA, err := s.Insert(ctx, newTriple("InverterX", "MTBF", "100000", "h", "vendor-datasheet"))
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, fpA, types.TierSilver))

	fpB, err := s.Insert(ctx, newTriple("InverterX", "MTBF", "20000", "h", "user-forum"))
	require.NoError(t, err)

	id, err := s.RecordConflict(ctx, fpA, fpB, types.ConflictNumericalMismatch)
	require.NoError(t, err)

	stats, err := s.StatsByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Silver)
	assert.Equal(t, 1, stats.Bronze)
	assert.Equal(t, 1, stats.Conflicts)

	require.NoError(t, s.ResolveConflict(ctx, id, types.ConflictResolvedAuthority, "vendor datasheet wins"))
	stats, err = s.StatsByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Conflicts)
}
