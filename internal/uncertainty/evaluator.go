// Package uncertainty quantifies node-local and session-global uncertainty
// over the reasoning tree and its extracted facts, and nominates
// information-gathering actions for the collaborator layer. The core never
// executes an InfoAction; it only surfaces them.
package uncertainty

import (
	"context"
	"sort"

	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// InfoAction kinds the evaluator proposes.
const (
	ActionFetchEvidence   types.InfoActionKind = "fetch-more-evidence-for-subject"
	ActionUserArbitration types.InfoActionKind = "request-user-arbitration"
)

// Evaluator computes weighted uncertainty scores. The weights are
// deliberately unnormalized: scaling every weight by k scales every
// uncertainty score by k.
type Evaluator struct {
	store   factstore.FactStore
	weights config.UncertaintyWeights
}

// New builds an Evaluator over the session's FactStore and weight tuple.
func New(store factstore.FactStore, weights config.UncertaintyWeights) *Evaluator {
	return &Evaluator{store: store, weights: weights}
}

// NodeUncertainty is the weighted sum over a node's conflict count,
// fact-confidence variance, coverage gap, and axiom-compliance gap.
func (e *Evaluator) NodeUncertainty(ctx context.Context, node *types.Node) (float64, error) {
	conflicts, variance, err := e.factSignals(ctx, node.FactFingerprints)
	if err != nil {
		return 0, err
	}

	compliance := meanStepCompliance(node)

	u := e.weights.Conflicts*float64(conflicts) +
		e.weights.ConfidenceVariance*variance +
		e.weights.Coverage*(1-node.Coverage) +
		e.weights.AxiomCompliance*(1-compliance)
	return u, nil
}

// factSignals returns the count of conflicts touching the node's SPO set and
// the variance of confidence across it.
func (e *Evaluator) factSignals(ctx context.Context, fingerprints []string) (int, float64, error) {
	if len(fingerprints) == 0 {
		return 0, 0, nil
	}

	conflicts, err := e.store.Conflicts(ctx, fingerprints...)
	if err != nil {
		return 0, 0, err
	}

	var confidences []float64
	for _, fp := range fingerprints {
		t, ok, err := e.store.Get(ctx, fp)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			confidences = append(confidences, t.Confidence)
		}
	}
	return len(conflicts), variance(confidences), nil
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

func meanStepCompliance(node *types.Node) float64 {
	var selected *types.Variant
	for _, v := range node.Variants {
		if v.ID == node.SelectedVariant {
			selected = v
			break
		}
	}
	if selected == nil || len(selected.Steps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range selected.Steps {
		sum += s.Score.AxiomCompliance
	}
	return sum / float64(len(selected.Steps))
}

// Propose nominates information-gathering actions for a node whose
// uncertainty is at least threshold: one evidence fetch per distinct subject in
// its SPO set and one arbitration request per unresolved conflict. Proposals
// are ordered deterministically.
func (e *Evaluator) Propose(ctx context.Context, node *types.Node, threshold float64) ([]types.InfoAction, error) {
	u, err := e.NodeUncertainty(ctx, node)
	if err != nil {
		return nil, err
	}
	if u < threshold {
		return nil, nil
	}

	var actions []types.InfoAction

	subjects := map[string]bool{}
	for _, fp := range node.FactFingerprints {
		t, ok, err := e.store.Get(ctx, fp)
		if err != nil {
			return nil, err
		}
		if ok && !subjects[t.Subject] {
			subjects[t.Subject] = true
		}
	}
	ordered := make([]string, 0, len(subjects))
	for s := range subjects {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)
	for _, s := range ordered {
		actions = append(actions, types.InfoAction{Kind: ActionFetchEvidence, NodeID: node.ID, Target: s})
	}

	conflicts, err := e.store.Conflicts(ctx, node.FactFingerprints...)
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if c.Status == types.ConflictUnresolved || c.Status == types.ConflictAwaitingArbiter {
			actions = append(actions, types.InfoAction{Kind: ActionUserArbitration, NodeID: node.ID, Target: c.ID})
		}
	}
	return actions, nil
}

// HighUncertaintySubtrees walks the nodes and returns the IDs whose
// uncertainty strictly exceeds threshold, most uncertain first. The MCTS
// engine does not call it; selection never consults these flags.
func (e *Evaluator) HighUncertaintySubtrees(ctx context.Context, nodes []*types.Node, threshold float64) ([]string, error) {
	type scored struct {
		id string
		u  float64
	}
	var flagged []scored
	for _, n := range nodes {
		u, err := e.NodeUncertainty(ctx, n)
		if err != nil {
			return nil, err
		}
		if u > threshold {
			flagged = append(flagged, scored{id: n.ID, u: u})
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		if flagged[i].u != flagged[j].u {
			return flagged[i].u > flagged[j].u
		}
		return flagged[i].id < flagged[j].id
	})
	out := make([]string, 0, len(flagged))
	for _, f := range flagged {
		out = append(out, f.id)
	}
	return out, nil
}

// Scale returns a copy of weights with every component multiplied by k.
// Useful for calibrating the unnormalized tuple; NodeUncertainty scales
// linearly with it.
func Scale(w config.UncertaintyWeights, k float64) config.UncertaintyWeights {
	return config.UncertaintyWeights{
		Conflicts:          w.Conflicts * k,
		ConfidenceVariance: w.ConfidenceVariance * k,
		Coverage:           w.Coverage * k,
		AxiomCompliance:    w.AxiomCompliance * k,
	}
}
