package uncertainty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/types"
)

func storeWithConflict(t *testing.T) (*factstore.MemoryStore, []string) {
	t.Helper()
	store := factstore.NewMemoryStore()
	ctx := context.Background()

	a := types.NewTriple().Subject("InverterX").Predicate("MTBF").Object("100000").Unit("h").Source("vendor").Build()
	a.Confidence = 0.9
	fpA, err := store.Insert(ctx, a)
	require.NoError(t, err)

	b := types.NewTriple().Subject("InverterX").Predicate("MTBF").Object("20000").Unit("h").Source("forum").Build()
	b.Confidence = 0.3
	fpB, err := store.Insert(ctx, b)
	require.NoError(t, err)

	_, err = store.RecordConflict(ctx, fpA, fpB, types.ConflictNumericalMismatch)
	require.NoError(t, err)
	return store, []string{fpA, fpB}
}

func nodeWith(fps []string, coverage, compliance float64) *types.Node {
	return &types.Node{
		ID:               "n1",
		FactFingerprints: fps,
		Coverage:         coverage,
		SelectedVariant:  "v",
		Variants: []*types.Variant{{
			ID: "v",
			Steps: []*types.ReasoningStep{
				{Score: types.StepScore{AxiomCompliance: compliance}},
			},
		}},
	}
}

func TestNodeUncertaintyComponents(t *testing.T) {
	store, fps := storeWithConflict(t)
	w := config.UncertaintyWeights{Conflicts: 0.3, ConfidenceVariance: 0.4, Coverage: 0.2, AxiomCompliance: 0.3}
	e := New(store, w)

	node := nodeWith(fps, 0.5, 0.8)
	u, err := e.NodeUncertainty(context.Background(), node)
	require.NoError(t, err)

	// One conflict, confidence variance of {0.9, 0.3}, half coverage, 0.8
	// compliance.
	expected := 0.3*1 + 0.4*0.09 + 0.2*0.5 + 0.3*0.2
	assert.InDelta(t, expected, u, 1e-9)
}

func TestUncertaintyScalesLinearlyWithWeights(t *testing.T) {
	store, fps := storeWithConflict(t)
	base := config.Default().UncertaintyWeights
	node := nodeWith(fps, 0.25, 0.6)
	ctx := context.Background()

	u1, err := New(store, base).NodeUncertainty(ctx, node)
	require.NoError(t, err)
	u3, err := New(store, Scale(base, 3)).NodeUncertainty(ctx, node)
	require.NoError(t, err)

	assert.InDelta(t, 3*u1, u3, 1e-9)
}

func TestProposeEmitsFetchAndArbitrationActions(t *testing.T) {
	store, fps := storeWithConflict(t)
	e := New(store, config.Default().UncertaintyWeights)

	node := nodeWith(fps, 0, 0)
	actions, err := e.Propose(context.Background(), node, 0.1)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	assert.Equal(t, ActionFetchEvidence, actions[0].Kind)
	assert.Equal(t, "inverterx", actions[0].Target)
	assert.Equal(t, ActionUserArbitration, actions[1].Kind)
	assert.NotEmpty(t, actions[1].Target)
}

func TestProposeBelowThresholdIsSilent(t *testing.T) {
	store := factstore.NewMemoryStore()
	e := New(store, config.Default().UncertaintyWeights)

	node := nodeWith(nil, 1.0, 1.0)
	actions, err := e.Propose(context.Background(), node, 0.5)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestHighUncertaintySubtreesOrdering(t *testing.T) {
	store, fps := storeWithConflict(t)
	e := New(store, config.Default().UncertaintyWeights)

	calm := nodeWith(nil, 1.0, 1.0)
	calm.ID = "calm"
	tense := nodeWith(fps, 0, 0)
	tense.ID = "tense"

	flagged, err := e.HighUncertaintySubtrees(context.Background(), []*types.Node{calm, tense}, 0.1)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "tense", flagged[0])
}
