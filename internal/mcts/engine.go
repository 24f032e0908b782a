// Package mcts drives exploration of the reasoning tree: augmented-UCB
// selection, expansion through the ToT manager, a composite simulation
// reward, and uninterruptible backpropagation. Given the same session and a
// deterministic model, two runs select the same node sequence.
package mcts

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/telemetry"
	"github.com/sovereign-research/orchestrator/internal/tot"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// tierRewardWeights is the fact-quality contribution per tier.
var tierRewardWeights = map[types.Tier]float64{
	types.TierBronze: 0.3,
	types.TierSilver: 0.6,
	types.TierGold:   1.0,
}

// Result summarizes a finished search.
type Result struct {
	Status     types.SessionStatus
	Iterations int
	BestPath   []string
	BestReward float64
}

// Engine runs the MCTS loop for one session. It is single-threaded by
// design: only one expansion is ever in flight per engine.
type Engine struct {
	manager *tot.Manager
	judge   *axiom.Judge
	cfg     *config.SessionConfig
	logger  *slog.Logger

	// PruneFloor is the UCB value below which a fully-explored child is
	// pruned. Kept on the engine rather than session config because the
	// enumerated session options do not include it.
	PruneFloor float64

	// Metrics, when set, receives iteration and expansion instrumentation.
	Metrics *telemetry.Metrics
}

// New builds an Engine over an already-rooted tree.
func New(cfg *config.SessionConfig, manager *tot.Manager, judge *axiom.Judge, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		manager:    manager,
		judge:      judge,
		cfg:        cfg,
		logger:     logger,
		PruneFloor: -0.5,
	}
}

// Run executes iterations until the budget is exhausted, the best path
// converges for the configured streak, or every leaf is terminal or pruned.
// Cancellation and the time budget are honored between phases: a running
// backpropagation always completes before the loop exits.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	streak := 0
	var result Result

	for iteration := 1; iteration <= e.cfg.IterationBudget; iteration++ {
		if ctx.Err() != nil {
			break
		}
		if e.cfg.TimeBudgetMS > 0 && time.Since(start) > time.Duration(e.cfg.TimeBudgetMS)*time.Millisecond {
			break
		}

		path, target := e.selectPath()
		if target != "" {
			expandStart := time.Now()
			if err := e.manager.Expand(ctx, target); err != nil {
				switch {
				case errs.Is(err, errs.Contention):
					// Loser of an expansion race re-selects next iteration.
					continue
				case errs.Is(err, errs.Fatal):
					return result, err
				default:
					// Rolled back; move on with the next selection.
					result.Iterations = iteration
					continue
				}
			}
			if e.Metrics != nil {
				e.Metrics.ExpansionsTotal.Inc()
				e.Metrics.ExpansionDuration.Observe(time.Since(expandStart).Seconds())
			}
			path = append(path, target)
		}
		if len(path) == 0 {
			break
		}

		leaf, ok := e.manager.Node(path[len(path)-1])
		if !ok {
			break
		}
		reward := e.simulate(ctx, leaf)

		// Backpropagation is never interrupted: the whole path is applied
		// before any deadline or cancellation check runs.
		for _, nodeID := range path {
			e.manager.ApplyReward(nodeID, reward)
		}
		e.manager.RecordBackprop(path, reward)
		result.Iterations = iteration
		if e.Metrics != nil {
			e.Metrics.IterationsTotal.Inc()
		}

		e.pruneFrontier(path)

		best, bestReward := e.bestPath()
		result.BestPath = best
		result.BestReward = bestReward
		if bestReward >= e.cfg.ConvergenceThreshold {
			streak++
			if streak >= e.cfg.ConvergenceStreak {
				result.Status = types.SessionComplete
				return result, nil
			}
		} else {
			streak = 0
		}

		if !e.manager.HasCreatedNodes() && e.allLeavesSettled() {
			if bestReward >= e.cfg.ConvergenceThreshold {
				result.Status = types.SessionComplete
			} else {
				result.Status = types.SessionExhausted
			}
			return result, nil
		}
	}

	result.Status = types.SessionExhausted
	best, bestReward := e.bestPath()
	result.BestPath = best
	result.BestReward = bestReward
	return result, nil
}

// selectPath descends from the root by augmented UCB and returns the path of
// already-expanded nodes plus the created node to expand next ("" when the
// descent ends at a settled leaf).
func (e *Engine) selectPath() (path []string, toExpand string) {
	rootID := e.manager.RootID()
	root, ok := e.manager.Node(rootID)
	if !ok {
		return nil, ""
	}
	if root.Status == types.NodeCreated {
		return nil, rootID
	}

	current := root
	path = append(path, current.ID)
	for {
		children := e.manager.Children(current.ID)
		if len(children) == 0 {
			return path, ""
		}

		// Unvisited children first, in insertion order.
		var created *types.Node
		for _, c := range children {
			if c.Status == types.NodeCreated {
				created = c
				break
			}
		}
		if created != nil {
			return path, created.ID
		}

		next := e.bestChild(current, children)
		if next == nil {
			return path, ""
		}
		path = append(path, next.ID)
		if next.Status != types.NodeExpanded {
			return path, ""
		}
		current = next
	}
}

// bestChild maximizes the augmented UCB among selectable children.
func (e *Engine) bestChild(parent *types.Node, children []*types.Node) *types.Node {
	var best *types.Node
	bestValue := math.Inf(-1)
	for _, c := range children {
		if c.Status == types.NodePruned {
			continue
		}
		value := e.ucb(parent, c)
		if value > bestValue {
			bestValue = value
			best = c
		}
	}
	return best
}

// ucb computes Q/N + c*sqrt(ln N(parent)/N) + beta_cov*(1-coverage) +
// beta_prior*prior. Unvisited nodes are infinite.
func (e *Engine) ucb(parent, n *types.Node) float64 {
	if n.Visits == 0 {
		return math.Inf(1)
	}
	exploit := n.CumulativeReward / float64(n.Visits)
	explore := 0.0
	if parent.Visits > 0 {
		explore = e.cfg.ExplorationConstant * math.Sqrt(math.Log(float64(parent.Visits))/float64(n.Visits))
	}
	return exploit + explore +
		e.cfg.CoverageWeight*(1-n.Coverage) +
		e.cfg.PriorWeight*n.Prior
}

// simulate produces the composite reward in [-1, 1] for an expanded node.
func (e *Engine) simulate(ctx context.Context, node *types.Node) float64 {
	variant := selectedVariant(node)
	if variant == nil {
		return 0
	}

	reward := e.cfg.RewardWeights.VariantScore * variant.Aggregate
	reward += e.cfg.RewardWeights.AxiomConclusion * e.conclusionAlignment(ctx, variant.Conclusion)
	reward += e.cfg.RewardWeights.FactQuality * e.factQuality(ctx, node.FactFingerprints)

	if variant.Violation {
		reward -= 0.5
	}
	if reward > 1 {
		reward = 1
	}
	if reward < -1 {
		reward = -1
	}
	return reward
}

func selectedVariant(node *types.Node) *types.Variant {
	for _, v := range node.Variants {
		if v.ID == node.SelectedVariant {
			return v
		}
	}
	return nil
}

// conclusionAlignment is the Judge aggregate over the conclusion, normalized
// by the library's total weight into [-1, 1].
func (e *Engine) conclusionAlignment(ctx context.Context, conclusion string) float64 {
	if conclusion == "" {
		return 0
	}
	agg, err := e.judge.Evaluate(ctx, axiom.Claim{Text: conclusion})
	if err != nil {
		e.logger.Warn("conclusion judging failed", "error", err)
		return 0
	}
	var totalWeight float64
	for _, a := range e.judge.Library().Axioms() {
		totalWeight += a.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	normalized := agg.Total / totalWeight
	if normalized > 1 {
		return 1
	}
	if normalized < -1 {
		return -1
	}
	return normalized
}

// factQuality is the tier-weighted mean over the node's extracted SPOs.
func (e *Engine) factQuality(ctx context.Context, fingerprints []string) float64 {
	if len(fingerprints) == 0 {
		return 0
	}
	store := e.manager.Store()
	var sum float64
	counted := 0
	for _, fp := range fingerprints {
		t, ok, err := store.Get(ctx, fp)
		if err != nil || !ok {
			continue
		}
		// Follow supersede links so merged facts still count.
		for t.InvalidatedBy != "" {
			next, nextOK, err := store.Get(ctx, t.InvalidatedBy)
			if err != nil || !nextOK {
				break
			}
			t = next
		}
		sum += tierRewardWeights[t.Tier]
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// pruneFrontier prunes fully-explored children along the iteration path
// whose UCB fell below the floor.
func (e *Engine) pruneFrontier(path []string) {
	for _, nodeID := range path {
		parent, ok := e.manager.Node(nodeID)
		if !ok {
			continue
		}
		for _, child := range e.manager.Children(nodeID) {
			if child.Status != types.NodeExpanded || child.Visits == 0 {
				continue
			}
			if len(e.manager.Children(child.ID)) != 0 {
				continue
			}
			if e.ucb(parent, child) < e.PruneFloor {
				if err := e.manager.Prune(child.ID); err == nil {
					e.logger.Debug("pruned low-value leaf", "node", child.ID)
				}
			}
		}
	}
}

// bestPath is the greedy max-average-reward descent from the root; its
// reward is the root's best child average, the quantity the convergence
// streak watches.
func (e *Engine) bestPath() ([]string, float64) {
	rootID := e.manager.RootID()
	current, ok := e.manager.Node(rootID)
	if !ok {
		return nil, 0
	}
	path := []string{current.ID}
	bestReward := math.Inf(-1)
	first := true
	for {
		children := e.manager.Children(current.ID)
		var best *types.Node
		bestAvg := math.Inf(-1)
		for _, c := range children {
			if c.Visits == 0 || c.Status == types.NodePruned {
				continue
			}
			avg := c.CumulativeReward / float64(c.Visits)
			if avg > bestAvg {
				bestAvg = avg
				best = c
			}
		}
		if best == nil {
			break
		}
		path = append(path, best.ID)
		if first {
			bestReward = bestAvg
			first = false
		}
		current = best
	}
	if math.IsInf(bestReward, -1) {
		bestReward = 0
	}
	return path, bestReward
}

// allLeavesSettled reports whether every reachable leaf is terminal or
// pruned.
func (e *Engine) allLeavesSettled() bool {
	rootID := e.manager.RootID()
	var walk func(id string) bool
	walk = func(id string) bool {
		node, ok := e.manager.Node(id)
		if !ok {
			return true
		}
		children := e.manager.Children(id)
		if len(children) == 0 {
			return node.Status == types.NodeTerminal || node.Status == types.NodePruned
		}
		for _, c := range children {
			if !walk(c.ID) {
				return false
			}
		}
		return true
	}
	return walk(rootID)
}
