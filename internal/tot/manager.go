// Package tot owns the Tree-of-Thought: node lifecycle, expansion, SPO
// extraction into the FactStore, and the coverage accounting MCTS feeds on.
// Manager is the only component allowed to mutate the tree; everything else
// reads copies.
package tot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/google/uuid"

	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/cot"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/spo"
	"github.com/sovereign-research/orchestrator/internal/types"
	"github.com/sovereign-research/orchestrator/internal/verifier"
)

// Recorder receives one call per state transition for the event log. The
// session supplies the real implementation; NopRecorder keeps the Manager
// usable standalone.
type Recorder interface {
	Record(kind types.TransitionKind, nodeID string, payload map[string]any)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(types.TransitionKind, string, map[string]any) {}

// newNodeID is a var so replay can substitute deterministic identifiers.
var newNodeID = func() string { return "node-" + uuid.NewString() }

// Manager is the reasoning tree coordinator (the integration hub): it drives
// variant generation, selection, fact extraction, promotion, and the node
// state machine.
type Manager struct {
	mu sync.RWMutex

	nodes    map[string]*types.Node
	children map[string][]string
	edges    []*types.Edge
	tree     graph.Graph[string, string]
	rootID   string

	// expanding is the per-node expansion lock: the second task to attempt
	// an expansion on the same node loses with Contention.
	expanding map[string]bool

	generator *cot.Generator
	store     factstore.FactStore
	promoter  *verifier.Promoter
	recorder  Recorder
	cfg       *config.SessionConfig
	logger    *slog.Logger
}

// NewManager wires the tree coordinator to its collaborators.
func NewManager(cfg *config.SessionConfig, generator *cot.Generator, store factstore.FactStore, promoter *verifier.Promoter, recorder Recorder, logger *slog.Logger) *Manager {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		nodes:     make(map[string]*types.Node),
		children:  make(map[string][]string),
		tree:      graph.New(graph.StringHash, graph.Directed(), graph.Acyclic()),
		expanding: make(map[string]bool),
		generator: generator,
		store:     store,
		promoter:  promoter,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateRoot creates the root node for a research question.
func (m *Manager) CreateRoot(question string) (*types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rootID != "" {
		return nil, errs.New(errs.InvalidInput, "tree already has a root")
	}
	node := m.createNodeLocked("", question, 0, "")
	m.rootID = node.ID
	return cloneNode(node), nil
}

// createNodeLocked creates a node in created state. Caller holds m.mu.
func (m *Manager) createNodeLocked(parentID, question string, depth int, label string) *types.Node {
	node := &types.Node{
		ID:        newNodeID(),
		ParentID:  parentID,
		Question:  question,
		Depth:     depth,
		Status:    types.NodeCreated,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.nodes[node.ID] = node
	_ = m.tree.AddVertex(node.ID)
	if parentID != "" {
		m.children[parentID] = append(m.children[parentID], node.ID)
		m.edges = append(m.edges, &types.Edge{ParentID: parentID, ChildID: node.ID, Label: label})
		_ = m.tree.AddEdge(parentID, node.ID)
	}
	m.recorder.Record(types.TransitionNodeCreated, node.ID, map[string]any{
		"parent_id": parentID,
		"question":  question,
		"depth":     depth,
		"label":     label,
	})
	return node
}

// RootID returns the root node identifier.
func (m *Manager) RootID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rootID
}

// Node returns a deep copy of the node, if present.
func (m *Manager) Node(id string) (*types.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, false
	}
	return cloneNode(n), true
}

// Children returns deep copies of the node's children in insertion order —
// the order MCTS uses to break first-visit ties deterministically.
func (m *Manager) Children(id string) []*types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.children[id]
	out := make([]*types.Node, 0, len(ids))
	for _, childID := range ids {
		out = append(out, cloneNode(m.nodes[childID]))
	}
	return out
}

// Edges returns a copy of every edge in creation order.
func (m *Manager) Edges() []*types.Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Edge, 0, len(m.edges))
	for _, e := range m.edges {
		clone := *e
		out = append(out, &clone)
	}
	return out
}

// NodeCount returns the number of nodes in the tree.
func (m *Manager) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// Expand runs the full expansion algorithm on a created node: variants,
// selection, SPO extraction, promotion, alignment, decomposition. On
// cancellation or a permanent capability failure the node rolls back to
// created and partial variants are discarded.
func (m *Manager) Expand(ctx context.Context, nodeID string) error {
	question, depth, err := m.beginExpansion(nodeID)
	if err != nil {
		return err
	}

	if err := m.expandLocked(ctx, nodeID, question, depth); err != nil {
		m.rollback(nodeID, err)
		return err
	}
	return nil
}

// beginExpansion transitions created -> expanding under the per-node lock.
func (m *Manager) beginExpansion(nodeID string) (question string, depth int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return "", 0, errs.New(errs.InvalidInput, "unknown node "+nodeID)
	}
	if m.expanding[nodeID] {
		return "", 0, errs.New(errs.Contention, "node "+nodeID+" is already expanding")
	}
	if node.Status != types.NodeCreated {
		return "", 0, errs.New(errs.InvalidInput, fmt.Sprintf("node %s is %s, not created", nodeID, node.Status))
	}

	m.expanding[nodeID] = true
	node.Status = types.NodeExpanding
	node.UpdatedAt = time.Now()
	m.recorder.Record(types.TransitionExpandStart, nodeID, nil)
	return node.Question, node.Depth, nil
}

// rollback reverts an expanding node to created, discarding partial work.
func (m *Manager) rollback(nodeID string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if ok {
		node.Status = types.NodeCreated
		node.Variants = nil
		node.SelectedVariant = ""
		node.FactFingerprints = nil
		node.UpdatedAt = time.Now()
	}
	delete(m.expanding, nodeID)
	m.recorder.Record(types.TransitionExpandRollback, nodeID, map[string]any{"error": cause.Error()})
}

func (m *Manager) expandLocked(ctx context.Context, nodeID, question string, depth int) error {
	variants, err := m.generator.Generate(ctx, nodeID, question, m.cfg.VariantTemperatures)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.CapabilityPermanent, "expansion cancelled", err)
	}

	selected := SelectVariant(variants)

	fingerprints, err := m.ingestFacts(ctx, nodeID, selected)
	if err != nil {
		return err
	}

	alignment := variantAlignment(selected)

	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.nodes[nodeID]
	node.Variants = variants
	node.SelectedVariant = selected.ID
	node.FactFingerprints = fingerprints
	node.AxiomAlignment = alignment

	var childIDs []string
	if depth < m.cfg.MaxDepth {
		for _, sub := range Decompose(question, selected, m.cfg.BranchingFactor) {
			child := m.createNodeLocked(nodeID, sub.Question, depth+1, sub.Label)
			childIDs = append(childIDs, child.ID)
		}
	}

	node.Status = types.NodeExpanded
	node.UpdatedAt = time.Now()
	delete(m.expanding, nodeID)
	m.recomputeCoverageLocked(nodeID)
	m.recomputeCoverageLocked(node.ParentID)

	m.recorder.Record(types.TransitionExpandComplete, nodeID, map[string]any{
		"selected_variant":  selected.ID,
		"approach":          string(selected.Approach),
		"aggregate":         selected.Aggregate,
		"fact_fingerprints": fingerprints,
		"axiom_alignment":   alignment,
		"children":          childIDs,
		"variants":          variants,
	})

	// Depth-capped nodes, and aligned conclusions that decompose into
	// nothing new, are terminal.
	if depth >= m.cfg.MaxDepth || (alignment >= m.cfg.ConvergenceThreshold && len(childIDs) == 0) {
		node.Status = types.NodeTerminal
		node.UpdatedAt = time.Now()
		m.recorder.Record(types.TransitionTerminal, nodeID, nil)
		m.recomputeCoverageLocked(node.ParentID)
	}
	return nil
}

// ingestFacts parses the winning variant into SPO triples and inserts them
// attributed to the node, then triggers the promotion pass. Rejected facts
// are logged, never fatal.
func (m *Manager) ingestFacts(ctx context.Context, nodeID string, selected *types.Variant) ([]string, error) {
	var text string
	for _, step := range selected.Steps {
		text += step.Text + "\n"
	}
	facts, rejections := spo.ExtractFromText(text)
	for _, r := range rejections {
		m.logger.Warn("rejected fact at parse", "node", nodeID, "line", r.Line, "reason", r.Reason)
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.CapabilityPermanent, "expansion cancelled before fact ingest", err)
	}

	source := "node:" + nodeID
	fingerprints := make([]string, 0, len(facts))
	for _, f := range facts {
		fp, err := m.store.Insert(ctx, &types.Triple{
			Subject:       f.Subject,
			Predicate:     f.Predicate,
			Object:        f.Object,
			Unit:          f.Unit,
			PrimarySource: source,
			Provenance:    []string{source},
		})
		if err != nil {
			if errs.Is(err, errs.InvalidInput) {
				m.logger.Warn("rejected fact at ingest", "node", nodeID, "error", err)
				continue
			}
			return nil, err
		}
		fingerprints = append(fingerprints, fp)
	}

	touched := fingerprints
	if m.promoter != nil && len(fingerprints) > 0 {
		var err error
		touched, err = m.promoter.ProcessBatch(ctx, fingerprints)
		if err != nil {
			return nil, err
		}
	}
	return fingerprints, m.snapshotFacts(ctx, nodeID, touched)
}

// snapshotFacts records the post-promotion state of every triple and
// conflict the batch touched, so replay can restore the store without
// re-running promotion.
func (m *Manager) snapshotFacts(ctx context.Context, nodeID string, touched []string) error {
	if len(touched) == 0 {
		return nil
	}
	triples := make([]*types.Triple, 0, len(touched))
	for _, fp := range touched {
		t, ok, err := m.store.Get(ctx, fp)
		if err != nil {
			return err
		}
		if ok {
			triples = append(triples, t)
		}
	}
	conflicts, err := m.store.Conflicts(ctx, touched...)
	if err != nil {
		return err
	}
	m.recorder.Record(types.TransitionFactsIngested, nodeID, map[string]any{
		"triples":   triples,
		"conflicts": conflicts,
	})
	return nil
}

// SelectVariant picks the winning variant: highest aggregate, ties broken by
// fewest violating steps, then approach order, then insertion order.
func SelectVariant(variants []*types.Variant) *types.Variant {
	sorted := append([]*types.Variant(nil), variants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Aggregate != b.Aggregate {
			return a.Aggregate > b.Aggregate
		}
		av, bv := violatingSteps(a), violatingSteps(b)
		if av != bv {
			return av < bv
		}
		if types.ApproachOrder[a.Approach] != types.ApproachOrder[b.Approach] {
			return types.ApproachOrder[a.Approach] < types.ApproachOrder[b.Approach]
		}
		return a.InsertionOrder < b.InsertionOrder
	})
	return sorted[0]
}

func violatingSteps(v *types.Variant) int {
	count := 0
	for _, s := range v.Steps {
		if s.Score.Overall < 0.3 {
			count++
		}
	}
	return count
}

// variantAlignment aggregates the Judge-derived compliance across the
// winning variant's steps.
func variantAlignment(v *types.Variant) float64 {
	if len(v.Steps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range v.Steps {
		sum += s.Score.AxiomCompliance
	}
	return sum / float64(len(v.Steps))
}

// Prune marks an expanded node pruned and drops its non-selected variants;
// the selected variant is retained for audit.
func (m *Manager) Prune(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return errs.New(errs.InvalidInput, "unknown node "+nodeID)
	}
	if node.Status != types.NodeExpanded {
		return errs.New(errs.InvalidInput, fmt.Sprintf("cannot prune node in state %s", node.Status))
	}
	node.Status = types.NodePruned
	node.UpdatedAt = time.Now()
	if node.SelectedVariant != "" {
		for _, v := range node.Variants {
			if v.ID == node.SelectedVariant {
				node.Variants = []*types.Variant{v}
				break
			}
		}
	} else {
		node.Variants = nil
	}
	m.recorder.Record(types.TransitionPruned, nodeID, nil)
	m.recomputeCoverageLocked(node.ParentID)
	return nil
}

// MarkTerminal transitions an expanded node to terminal.
func (m *Manager) MarkTerminal(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return errs.New(errs.InvalidInput, "unknown node "+nodeID)
	}
	if node.Status != types.NodeExpanded {
		return errs.New(errs.InvalidInput, fmt.Sprintf("cannot terminate node in state %s", node.Status))
	}
	node.Status = types.NodeTerminal
	node.UpdatedAt = time.Now()
	m.recorder.Record(types.TransitionTerminal, nodeID, nil)
	m.recomputeCoverageLocked(node.ParentID)
	return nil
}

// ApplyReward adds one visit and the reward to a node. Used by MCTS
// backpropagation; never interrupted mid-path because the engine applies the
// whole path before checking any deadline.
func (m *Manager) ApplyReward(nodeID string, reward float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	node.Visits++
	node.CumulativeReward += reward
	node.UpdatedAt = time.Now()
}

// RecordBackprop emits the backpropagation event for one iteration.
func (m *Manager) RecordBackprop(path []string, reward float64) {
	m.recorder.Record(types.TransitionBackprop, "", map[string]any{
		"path":   path,
		"reward": reward,
	})
}

// recomputeCoverageLocked refreshes a node's coverage score: the fraction of
// its children in expanded or terminal state. Caller holds m.mu.
func (m *Manager) recomputeCoverageLocked(nodeID string) {
	if nodeID == "" {
		return
	}
	node, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	ids := m.children[nodeID]
	if len(ids) == 0 {
		node.Coverage = 0
		return
	}
	done := 0
	for _, childID := range ids {
		switch m.nodes[childID].Status {
		case types.NodeExpanded, types.NodeTerminal:
			done++
		}
	}
	node.Coverage = float64(done) / float64(len(ids))
}

// AllNodes returns deep copies of every node in deterministic preorder.
func (m *Manager) AllNodes() []*types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Node
	var walk func(id string)
	walk = func(id string) {
		node, ok := m.nodes[id]
		if !ok {
			return
		}
		out = append(out, cloneNode(node))
		for _, childID := range m.children[id] {
			walk(childID)
		}
	}
	if m.rootID != "" {
		walk(m.rootID)
	}
	return out
}

// Store exposes the FactStore this tree ingests into, for reward scoring.
func (m *Manager) Store() factstore.FactStore {
	return m.store
}

// HasCreatedNodes reports whether any node is still awaiting expansion.
func (m *Manager) HasCreatedNodes() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.Status == types.NodeCreated {
			return true
		}
	}
	return false
}

// Progress is the session-level estimate driven by root coverage.
func (m *Manager) Progress() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	root, ok := m.nodes[m.rootID]
	if !ok {
		return 0
	}
	return root.Coverage
}

func cloneNode(n *types.Node) *types.Node {
	c := *n
	c.FactFingerprints = append([]string(nil), n.FactFingerprints...)
	c.Variants = make([]*types.Variant, 0, len(n.Variants))
	for _, v := range n.Variants {
		vc := *v
		vc.Steps = make([]*types.ReasoningStep, 0, len(v.Steps))
		for _, s := range v.Steps {
			sc := *s
			vc.Steps = append(vc.Steps, &sc)
		}
		c.Variants = append(c.Variants, &vc)
	}
	return &c
}

// RestoreNode installs a node verbatim, bypassing generation. Replay-only.
func (m *Manager) RestoreNode(node *types.Node, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := cloneNode(node)
	m.nodes[clone.ID] = clone
	_ = m.tree.AddVertex(clone.ID)
	if clone.ParentID == "" {
		m.rootID = clone.ID
	} else {
		m.children[clone.ParentID] = append(m.children[clone.ParentID], clone.ID)
		m.edges = append(m.edges, &types.Edge{ParentID: clone.ParentID, ChildID: clone.ID, Label: label})
		_ = m.tree.AddEdge(clone.ParentID, clone.ID)
	}
	m.recomputeCoverageLocked(clone.ParentID)
}

// MutateNode applies fn to the stored node under the tree lock. Replay-only.
func (m *Manager) MutateNode(nodeID string, fn func(*types.Node)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[nodeID]; ok {
		fn(node)
		m.recomputeCoverageLocked(node.ParentID)
	}
}
