package tot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/cot"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/prm"
	"github.com/sovereign-research/orchestrator/internal/types"
	"github.com/sovereign-research/orchestrator/internal/verifier"
)

const expansionResponse = `STEP: Research from the installer shows the kit produces 4500 kWh per year.
FACT: SolarKit | AnnualProduction | 4500 | kWh/yr
STEP: At 0.42 EUR per kWh the production offsets about 1890 EUR per year, therefore payback lands under 8 years.
FACT: SolarKit | ROI | 7.9 | years
CONCLUSION: The solar kit pays for itself in under eight years.`

type testHarness struct {
	manager *Manager
	store   *factstore.MemoryStore
	model   *capability.ScriptedModel
}

func newHarness(t *testing.T, cfg *config.SessionConfig) *testHarness {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	lib, err := axiom.NewLibrary(nil)
	require.NoError(t, err)
	judge := axiom.NewJudge(lib, nil, cfg.JudgeTemperature, nil)

	scorer, err := prm.New(judge, cfg.PRMWeights)
	require.NoError(t, err)

	model := capability.NewScriptedModel()
	model.Responder = func(req capability.CompletionRequest) (string, error) {
		return expansionResponse, nil
	}
	generator := cot.NewGenerator(model, scorer, nil)

	store := factstore.NewMemoryStore()
	promoter := verifier.NewPromoter(store, judge, nil, cfg.TierConsensusThreshold, nil)

	return &testHarness{
		manager: NewManager(cfg, generator, store, promoter, nil, nil),
		store:   store,
		model:   model,
	}
}

func TestExpansionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	root, err := h.manager.CreateRoot("Is the solar kit worth it?")
	require.NoError(t, err)
	assert.Equal(t, types.NodeCreated, root.Status)

	require.NoError(t, h.manager.Expand(ctx, root.ID))

	got, ok := h.manager.Node(root.ID)
	require.True(t, ok)
	assert.Equal(t, types.NodeExpanded, got.Status)

	// Exactly variant_count variants, one selected.
	require.Len(t, got.Variants, 3)
	assert.NotEmpty(t, got.SelectedVariant)

	// Facts from the winning variant landed in the store, attributed to the node.
	require.Len(t, got.FactFingerprints, 2)
	triple, ok, err := h.store.Get(ctx, got.FactFingerprints[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node:"+root.ID, triple.PrimarySource)

	// Decomposition created children in created state.
	children := h.manager.Children(root.ID)
	require.Len(t, children, 3)
	for _, c := range children {
		assert.Equal(t, types.NodeCreated, c.Status)
		assert.Equal(t, 1, c.Depth)
	}
}

func TestExpansionContention(t *testing.T) {
	h := newHarness(t, nil)
	root, err := h.manager.CreateRoot("question")
	require.NoError(t, err)

	// Simulate a racing expansion holding the per-node lock.
	_, _, err = h.manager.beginExpansion(root.ID)
	require.NoError(t, err)

	err = h.manager.Expand(context.Background(), root.ID)
	assert.True(t, errs.Is(err, errs.Contention))
}

func TestCancellationRollsBackToCreated(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel between variant generation and SPO insertion.
	h.model.Responder = func(req capability.CompletionRequest) (string, error) {
		cancel()
		return expansionResponse, nil
	}

	root, err := h.manager.CreateRoot("question")
	require.NoError(t, err)

	err = h.manager.Expand(ctx, root.ID)
	require.Error(t, err)

	got, ok := h.manager.Node(root.ID)
	require.True(t, ok)
	assert.Equal(t, types.NodeCreated, got.Status)
	assert.Empty(t, got.Variants)
	assert.Empty(t, got.FactFingerprints)

	// No triples attributed to the node exist.
	stats, err := h.store.StatsByTier(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Bronze+stats.Silver+stats.Gold)

	// The node is expandable again.
	require.NoError(t, h.manager.Expand(context.Background(), root.ID))
}

func TestDepthCapMakesNodesTerminal(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDepth = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	root, err := h.manager.CreateRoot("question")
	require.NoError(t, err)
	require.NoError(t, h.manager.Expand(ctx, root.ID))

	children := h.manager.Children(root.ID)
	require.NotEmpty(t, children)

	require.NoError(t, h.manager.Expand(ctx, children[0].ID))
	child, ok := h.manager.Node(children[0].ID)
	require.True(t, ok)
	assert.Equal(t, types.NodeTerminal, child.Status)
	// Depth-capped nodes decompose into nothing.
	assert.Empty(t, h.manager.Children(child.ID))
}

func TestCoverageAccounting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	root, err := h.manager.CreateRoot("question")
	require.NoError(t, err)
	require.NoError(t, h.manager.Expand(ctx, root.ID))

	got, _ := h.manager.Node(root.ID)
	assert.Zero(t, got.Coverage)

	children := h.manager.Children(root.ID)
	require.Len(t, children, 3)
	require.NoError(t, h.manager.Expand(ctx, children[0].ID))

	got, _ = h.manager.Node(root.ID)
	assert.InDelta(t, 1.0/3.0, got.Coverage, 1e-9)
	assert.InDelta(t, 1.0/3.0, h.manager.Progress(), 1e-9)
}

func TestPruneRetainsOnlySelectedVariant(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	root, err := h.manager.CreateRoot("question")
	require.NoError(t, err)
	require.NoError(t, h.manager.Expand(ctx, root.ID))

	require.NoError(t, h.manager.Prune(root.ID))

	got, _ := h.manager.Node(root.ID)
	assert.Equal(t, types.NodePruned, got.Status)
	require.Len(t, got.Variants, 1)
	assert.Equal(t, got.SelectedVariant, got.Variants[0].ID)
}

func TestSelectVariantTieBreaks(t *testing.T) {
	mk := func(order int, approach types.Approach, aggregate float64, violations int) *types.Variant {
		v := &types.Variant{ID: "v", Approach: approach, Aggregate: aggregate, InsertionOrder: order}
		for i := 0; i < violations; i++ {
			v.Steps = append(v.Steps, &types.ReasoningStep{Score: types.StepScore{Overall: 0.1}})
		}
		v.Steps = append(v.Steps, &types.ReasoningStep{Score: types.StepScore{Overall: 0.9}})
		return v
	}

	// Higher aggregate wins outright.
	best := SelectVariant([]*types.Variant{
		mk(0, types.ApproachAnalytical, 0.5, 0),
		mk(1, types.ApproachEmpirical, 0.8, 0),
	})
	assert.Equal(t, 1, best.InsertionOrder)

	// Equal aggregate: fewer violating steps wins.
	best = SelectVariant([]*types.Variant{
		mk(0, types.ApproachAnalytical, 0.5, 2),
		mk(1, types.ApproachEmpirical, 0.5, 0),
	})
	assert.Equal(t, 1, best.InsertionOrder)

	// Equal aggregate and violations: approach order analytical < empirical.
	best = SelectVariant([]*types.Variant{
		mk(0, types.ApproachEmpirical, 0.5, 0),
		mk(1, types.ApproachAnalytical, 0.5, 0),
	})
	assert.Equal(t, types.ApproachAnalytical, best.Approach)
}

func TestApplyRewardAccumulates(t *testing.T) {
	h := newHarness(t, nil)
	root, err := h.manager.CreateRoot("question")
	require.NoError(t, err)

	h.manager.ApplyReward(root.ID, 0.4)
	h.manager.ApplyReward(root.ID, 0.6)

	got, _ := h.manager.Node(root.ID)
	assert.Equal(t, 2, got.Visits)
	assert.InDelta(t, 1.0, got.CumulativeReward, 1e-9)
}
