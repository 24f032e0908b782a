package mcts

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/cot"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/prm"
	"github.com/sovereign-research/orchestrator/internal/tot"
	"github.com/sovereign-research/orchestrator/internal/types"
	"github.com/sovereign-research/orchestrator/internal/verifier"
)

const rootResponse = `STEP: The system has two production units worth comparing.
FACT: Alpha | Output | 4500 | kWh/yr
FACT: Beta | Output | 4000 | kWh/yr
CONCLUSION: Compare the units individually.`

const strongResponse = `STEP: Research from the field shows Alpha produced 4500 kWh over the year, therefore the output claim stands.
FACT: Alpha | Output | 4500 | kWh/yr
CONCLUSION: Alpha meets its rated output.`

const weakResponse = `STEP: I think maybe it works.
CONCLUSION: Unsure.`

// scriptedResponder steers branch quality: the root decomposes into an Alpha
// branch (strong evidence) and others (weak hedging).
func scriptedResponder(req capability.CompletionRequest) (string, error) {
	switch {
	case strings.Contains(req.Prompt, "Evaluate the system"):
		return rootResponse, nil
	case strings.Contains(req.Prompt, "Alpha"):
		return strongResponse, nil
	default:
		return weakResponse, nil
	}
}

// recordingSink captures transitions without calling back into the manager.
type recordingSink struct {
	mu        sync.Mutex
	questions map[string]string
	expanded  []string // questions in expansion order
}

func newRecordingSink() *recordingSink {
	return &recordingSink{questions: make(map[string]string)}
}

func (r *recordingSink) Record(kind types.TransitionKind, nodeID string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case types.TransitionNodeCreated:
		if q, ok := payload["question"].(string); ok {
			r.questions[nodeID] = q
		}
	case types.TransitionExpandStart:
		r.expanded = append(r.expanded, r.questions[nodeID])
	}
}

type harness struct {
	engine  *Engine
	manager *tot.Manager
	sink    *recordingSink
}

func newHarness(t *testing.T, cfg *config.SessionConfig) *harness {
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
	model.Responder = scriptedResponder
	generator := cot.NewGenerator(model, scorer, nil)

	store := factstore.NewMemoryStore()
	promoter := verifier.NewPromoter(store, judge, nil, cfg.TierConsensusThreshold, nil)

	sink := newRecordingSink()
	manager := tot.NewManager(cfg, generator, store, promoter, sink, nil)
	_, err = manager.CreateRoot("Evaluate the system.")
	require.NoError(t, err)

	return &harness{
		engine:  New(cfg, manager, judge, nil),
		manager: manager,
		sink:    sink,
	}
}

func TestConvergenceSelectsStrongBranch(t *testing.T) {
	cfg := config.Default()
	cfg.IterationBudget = 200
	cfg.ConvergenceThreshold = 0.35
	cfg.ConvergenceStreak = 3
	h := newHarness(t, cfg)

	result, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.SessionComplete, result.Status)
	assert.LessOrEqual(t, result.Iterations, 30)

	// The root's best child is the Alpha branch.
	require.GreaterOrEqual(t, len(result.BestPath), 2)
	bestChild, ok := h.manager.Node(result.BestPath[1])
	require.True(t, ok)
	assert.Contains(t, bestChild.Question, "Alpha")
	assert.GreaterOrEqual(t, result.BestReward, 0.35)
}

func TestSelectionDeterminism(t *testing.T) {
	run := func() []string {
		cfg := config.Default()
		cfg.IterationBudget = 10
		cfg.ConvergenceThreshold = 0.99
		h := newHarness(t, cfg)
		_, err := h.engine.Run(context.Background())
		require.NoError(t, err)
		return h.sink.expanded
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestSelectedVariantDeterminism(t *testing.T) {
	pick := func() types.Approach {
		cfg := config.Default()
		cfg.IterationBudget = 1
		h := newHarness(t, cfg)
		_, err := h.engine.Run(context.Background())
		require.NoError(t, err)

		root, ok := h.manager.Node(h.manager.RootID())
		require.True(t, ok)
		for _, v := range root.Variants {
			if v.ID == root.SelectedVariant {
				return v.Approach
			}
		}
		t.Fatal("no selected variant")
		return ""
	}

	assert.Equal(t, pick(), pick())
}

func TestBackpropagationCompleteness(t *testing.T) {
	cfg := config.Default()
	cfg.IterationBudget = 6
	cfg.ConvergenceThreshold = 0.99
	h := newHarness(t, cfg)

	result, err := h.engine.Run(context.Background())
	require.NoError(t, err)

	// Every iteration's path includes the root, so root visits equal the
	// number of completed iterations.
	root, ok := h.manager.Node(h.manager.RootID())
	require.True(t, ok)
	assert.Equal(t, result.Iterations, root.Visits)

	// Child visits sum to root visits minus the root's own expansion
	// iteration.
	childVisits := 0
	for _, c := range h.manager.Children(root.ID) {
		childVisits += c.Visits
	}
	assert.Equal(t, root.Visits-1, childVisits)
}

func TestIterationBudgetExhaustion(t *testing.T) {
	cfg := config.Default()
	cfg.IterationBudget = 3
	cfg.ConvergenceThreshold = 0.99
	h := newHarness(t, cfg)

	result, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.SessionExhausted, result.Status)
	assert.Equal(t, 3, result.Iterations)
}

func TestCancellationStopsBetweenIterations(t *testing.T) {
	cfg := config.Default()
	cfg.ConvergenceThreshold = 0.99
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SessionExhausted, result.Status)
	assert.Zero(t, result.Iterations)
}

func TestUCBUnvisitedIsInfinite(t *testing.T) {
	cfg := config.Default()
	e := New(cfg, nil, nil, nil)

	parent := &types.Node{Visits: 10}
	unvisited := &types.Node{Visits: 0}
	visited := &types.Node{Visits: 5, CumulativeReward: 4}

	assert.True(t, e.ucb(parent, unvisited) > e.ucb(parent, visited))

	// Coverage bonus favors the less-covered sibling at equal exploitation.
	covered := &types.Node{Visits: 5, CumulativeReward: 4, Coverage: 1.0}
	uncovered := &types.Node{Visits: 5, CumulativeReward: 4, Coverage: 0.0}
	assert.Greater(t, e.ucb(parent, uncovered), e.ucb(parent, covered))

	// Prior bonus breaks otherwise equal children.
	prior := &types.Node{Visits: 5, CumulativeReward: 4, Prior: 1.0}
	assert.Greater(t, e.ucb(parent, prior), e.ucb(parent, visited))
}

func TestViolationPenaltyLowersReward(t *testing.T) {
	cfg := config.Default()
	h := newHarness(t, cfg)

	clean := &types.Node{
		SelectedVariant: "v",
		Variants:        []*types.Variant{{ID: "v", Aggregate: 0.8}},
	}
	violating := &types.Node{
		SelectedVariant: "v",
		Variants:        []*types.Variant{{ID: "v", Aggregate: 0.8, Violation: true}},
	}

	ctx := context.Background()
	assert.InDelta(t, h.engine.simulate(ctx, clean)-0.5, h.engine.simulate(ctx, violating), 1e-9)
}
