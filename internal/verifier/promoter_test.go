package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/types"
)

func roiJudge(t *testing.T) *axiom.Judge {
	t.Helper()
	lib, err := axiom.NewLibrary([]*types.Axiom{
		{
			ID:      "roi-under-10",
			Label:   "ROI < 10 years",
			Weight:  1.0,
			Penalty: 5.0,
			Validator: func(domain map[string]float64) (bool, bool) {
				v, ok := domain["roi_years"]
				if !ok {
					return false, false
				}
				return v < 10, true
			},
		},
	})
	require.NoError(t, err)
	return axiom.NewJudge(lib, nil, 0.1, nil)
}

func processBatch(t *testing.T, p *Promoter, ctx context.Context, fps []string) {
	t.Helper()
	_, err := p.ProcessBatch(ctx, fps)
	require.NoError(t, err)
}

func insert(t *testing.T, store factstore.FactStore, subject, predicate, object, unit, source string) string {
	t.Helper()
	fp, err := store.Insert(context.Background(), types.NewTriple().
		Subject(subject).Predicate(predicate).Object(object).Unit(unit).Source(source).Build())
	require.NoError(t, err)
	return fp
}

// Two near-agreeing ROI triples from independent sources merge, clear the
// axiom, and reach Gold on consensus.
func TestGoldPromotionPipeline(t *testing.T) {
	store := factstore.NewMemoryStore()
	ctx := context.Background()

	insert(t, store, "SolarKit", "Cost", "15000", "EUR", "calc")
	insert(t, store, "SolarKit", "AnnualProduction", "4500", "kWh/yr", "calc")
	insert(t, store, "Grid", "Price", "0.42", "EUR/kWh", "utility-api")

	fpA := insert(t, store, "SolarKit", "ROI", "7.94", "years", "calc")
	fpB := insert(t, store, "SolarKit", "ROI", "7.9", "years", "forum")

	consensus := &StaticConsensus{Scores: map[string]float64{}}
	p := NewPromoter(store, roiJudge(t), consensus, 0.6, nil)

	// Pre-seed every merged-ROI consensus lookup to an attesting score.
	p.consensus = consensusFunc(func(ctx context.Context, triple *types.Triple) (float64, error) {
		if triple.Predicate == "roi" {
			return 0.7, nil
		}
		return 0, nil
	})

	processBatch(t, p, ctx, []string{fpA, fpB})

	golds, err := store.Query(ctx, factstore.QueryFilter{MinTier: types.TierGold, HasMinTier: true})
	require.NoError(t, err)
	require.Len(t, golds, 1)
	assert.Equal(t, "solarkit", golds[0].Subject)
	assert.Equal(t, "roi", golds[0].Predicate)
	assert.ElementsMatch(t, []string{"auto-merge", "calc", "forum"}, golds[0].Provenance)

	conflicts, err := store.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// The contributing ROI triples are superseded, not deleted.
	a, ok, err := store.Get(ctx, fpA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, a.InvalidatedBy)
}

type consensusFunc func(ctx context.Context, triple *types.Triple) (float64, error)

func (f consensusFunc) Score(ctx context.Context, triple *types.Triple) (float64, error) {
	return f(ctx, triple)
}

// Divergence far beyond the merge tolerance records a conflict and demotes
// nothing.
func TestContradictionSurfacing(t *testing.T) {
	store := factstore.NewMemoryStore()
	ctx := context.Background()

	fpExisting := insert(t, store, "InverterX", "MTBF", "100000", "h", "vendor-datasheet")
	require.NoError(t, store.Promote(ctx, fpExisting, types.TierSilver))

	p := NewPromoter(store, roiJudge(t), nil, 0.6, nil)
	fpNew := insert(t, store, "InverterX", "MTBF", "20000", "h", "user-forum")
	processBatch(t, p, ctx, []string{fpNew})

	stats, err := store.StatsByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Silver)
	assert.Equal(t, 1, stats.Bronze)
	assert.Equal(t, 1, stats.Conflicts)

	existing, ok, err := store.Get(ctx, fpExisting)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.TierSilver, existing.Tier)
	assert.Empty(t, existing.InvalidatedBy)
}

func TestMergeToleranceBoundary(t *testing.T) {
	ctx := context.Background()

	// 4.9% divergence merges.
	store := factstore.NewMemoryStore()
	p := NewPromoter(store, roiJudge(t), nil, 0.6, nil)
	fpA := insert(t, store, "PanelY", "Output", "1000", "kWh/yr", "calc")
	fpB := insert(t, store, "PanelY", "Output", "951", "kWh/yr", "forum")
	processBatch(t, p, ctx, []string{fpA, fpB})

	conflicts, err := store.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	visible, err := store.Query(ctx, factstore.QueryFilter{Subject: "PanelY"})
	require.NoError(t, err)
	require.Len(t, visible, 1)

	// 5.1% divergence conflicts.
	store = factstore.NewMemoryStore()
	p = NewPromoter(store, roiJudge(t), nil, 0.6, nil)
	fpA = insert(t, store, "PanelY", "Output", "1000", "kWh/yr", "calc")
	fpB = insert(t, store, "PanelY", "Output", "949", "kWh/yr", "forum")
	processBatch(t, p, ctx, []string{fpA, fpB})

	conflicts, err = store.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictNumericalMismatch, conflicts[0].Kind)
}

func TestSilverRequiresIndependentSourcesAndNoConflict(t *testing.T) {
	store := factstore.NewMemoryStore()
	ctx := context.Background()
	p := NewPromoter(store, roiJudge(t), nil, 0.6, nil)

	// One source only: stays Bronze.
	fp := insert(t, store, "BatteryZ", "Capacity", "10", "kWh", "vendor")
	processBatch(t, p, ctx, []string{fp})
	got, _, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, types.TierBronze, got.Tier)

	// Second independent attestation of the same fact: Silver.
	again := types.NewTriple().Subject("BatteryZ").Predicate("Capacity").Object("10").Unit("kWh").Source("vendor").Build()
	again.Provenance = append(again.Provenance, "installer-report")
	_, err = store.Insert(ctx, again)
	require.NoError(t, err)
	processBatch(t, p, ctx, []string{fp})

	got, _, err = store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, types.TierSilver, got.Tier)
}

func TestGoldViaEmpiricalValidationSource(t *testing.T) {
	store := factstore.NewMemoryStore()
	ctx := context.Background()
	p := NewPromoter(store, roiJudge(t), nil, 0.6, nil)

	triple := types.NewTriple().Subject("SolarKit").Predicate("ROI").Object("7.9").Unit("years").Source("calc").Build()
	triple.Provenance = append(triple.Provenance, "empirical-validation")
	fp, err := store.Insert(ctx, triple)
	require.NoError(t, err)

	processBatch(t, p, ctx, []string{fp})
	got, _, err := store.Get(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, types.TierGold, got.Tier)
}

func TestEscalationLadderAuthority(t *testing.T) {
	store := factstore.NewMemoryStore()
	ctx := context.Background()
	p := NewPromoter(store, roiJudge(t), nil, 0.6, nil)
	p.AuthoritySources = []string{"vendor-datasheet"}

	fpA := insert(t, store, "InverterX", "MTBF", "100000", "h", "vendor-datasheet")
	fpB := insert(t, store, "InverterX", "MTBF", "20000", "h", "user-forum")
	processBatch(t, p, ctx, []string{fpB})

	require.NoError(t, p.EscalateConflicts(ctx))

	conflicts, err := store.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictResolvedAuthority, conflicts[0].Status)

	loser, _, err := store.Get(ctx, fpB)
	require.NoError(t, err)
	assert.Equal(t, fpA, loser.InvalidatedBy)
}

func TestEscalationLadderAwaitsArbitration(t *testing.T) {
	store := factstore.NewMemoryStore()
	ctx := context.Background()
	p := NewPromoter(store, roiJudge(t), nil, 0.6, nil)

	insert(t, store, "InverterX", "Warranty", "comprehensive", "", "vendor")
	fpB := insert(t, store, "InverterX", "Warranty", "limited", "", "forum")
	processBatch(t, p, ctx, []string{fpB})

	require.NoError(t, p.EscalateConflicts(ctx))

	conflicts, err := store.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictAwaitingArbiter, conflicts[0].Status)
}

func TestChromemConsensusScoresAgreement(t *testing.T) {
	adapter := capability.NewInMemorySourceAdapter()
	adapter.Catalog["SolarKit roi"] = []capability.SourceDocument{
		{Text: "solarkit roi 7.9 years based on our installation", SourceID: "homeowner-blog"},
		{Text: "we measured solarkit roi near 8 years", SourceID: "energy-forum"},
	}

	c := NewChromemConsensus(adapter)
	triple := &types.Triple{
		Fingerprint: "fp-roi",
		Subject:     "SolarKit",
		Predicate:   "roi",
		Object:      "7.9",
		Unit:        "years",
		Provenance:  []string{"calc"},
	}

	score, err := c.Score(context.Background(), triple)
	require.NoError(t, err)
	assert.Greater(t, score, 0.5)

	// Deterministic: same documents, same score.
	c2 := NewChromemConsensus(adapter)
	score2, err := c2.Score(context.Background(), triple)
	require.NoError(t, err)
	assert.Equal(t, score, score2)
}
