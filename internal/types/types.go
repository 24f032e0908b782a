// Package types defines the core data structures shared by the reasoning and
// knowledge kernel: SPO triples and their provenance, axioms and axiom scores,
// reasoning steps and Chain-of-Thought variants, and the Tree-of-Thought nodes
// and edges that the MCTS engine searches over.
//
// These types are designed to be safely shared across goroutines through deep
// copying at the storage boundary (see internal/factstore and internal/tot),
// the same discipline the rest of this module follows for its tree state.
package types

import "time"

// Tier is the confidence class of an SPO triple.
//
// Tier is monotonic non-decreasing over a triple's lifetime: a triple may be
// promoted (Bronze -> Silver -> Gold) but never demoted.
type Tier int

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
)

// String renders the tier for logs and query ordering.
func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier name back into a Tier, defaulting to TierBronze.
func ParseTier(s string) Tier {
	switch s {
	case "silver":
		return TierSilver
	case "gold":
		return TierGold
	default:
		return TierBronze
	}
}

// Triple is the atomic fact stored by the FactStore: a Subject-Predicate-Object
// statement with explicit provenance, a confidence score, and a tier.
//
// Fingerprint is a content hash over (Subject, Predicate, Object, PrimarySource)
// after canonicalization and uniquely identifies the triple; see
// internal/canon for the normalization rules applied before hashing.
type Triple struct {
	Fingerprint string `json:"fingerprint"`

	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	// Unit is the explicit unit token for numeric objects (e.g. "kWh/yr").
	// Empty for non-numeric objects; a numeric object without a unit is
	// rejected at ingest.
	Unit string `json:"unit,omitempty"`

	PrimarySource string   `json:"primary_source"`
	Provenance    []string `json:"provenance"`

	Confidence float64 `json:"confidence"`
	Tier       Tier    `json:"tier"`

	CreatedAt time.Time `json:"created_at"`

	// InvalidatedBy is the fingerprint of the triple that supersedes this one,
	// if any. A superseded triple is never deleted.
	InvalidatedBy string `json:"invalidated_by,omitempty"`
}

// ConflictKind categorizes why two triples sharing a subject+predicate were
// found incompatible.
type ConflictKind string

const (
	ConflictNumericalMismatch   ConflictKind = "numerical_mismatch"
	ConflictAntonym             ConflictKind = "antonym"
	ConflictCategoricalDisagree ConflictKind = "categorical_disagreement"
)

// ConflictStatus tracks the escalation ladder's current rung for a conflict.
type ConflictStatus string

const (
	ConflictUnresolved        ConflictStatus = "unresolved"
	ConflictResolvedMerged    ConflictStatus = "resolved_merged"
	ConflictResolvedAuthority ConflictStatus = "resolved_authority"
	ConflictAwaitingArbiter   ConflictStatus = "awaiting_arbitration"
)

// Conflict records a pair of triples that share a (subject, predicate) but
// disagree on object. Conflicts are never silently resolved by overwriting a
// triple; resolution is either an explicit merge (recorded via
// Triple.InvalidatedBy) or left for an external arbiter.
type Conflict struct {
	ID         string         `json:"id"`
	A          string         `json:"a_fingerprint"`
	B          string         `json:"b_fingerprint"`
	Kind       ConflictKind   `json:"kind"`
	Status     ConflictStatus `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Verdict is the outcome of evaluating a claim against an axiom.
type Verdict string

const (
	VerdictSupports Verdict = "supports"
	VerdictNeutral  Verdict = "neutral"
	VerdictViolates Verdict = "violates"
)

// Axiom is a user-defined value principle. Axioms are immutable once loaded
// into a session: AxiomLibrary never mutates a loaded axiom, only swaps the
// whole snapshot between sessions.
type Axiom struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`  // in [0,1]
	Penalty  float64 `json:"penalty"` // magnitude subtracted on violation

	// Rubric is the natural-language evaluation rubric used by the
	// model-based Judge path when no Validator applies.
	Rubric string `json:"rubric"`

	// Validator, when non-nil, is a pure domain -> bool function used in
	// preference to the model-based path. Domain is a claim expressed as a
	// flat set of named numeric fields (e.g. "roi_years": 7.9). The second
	// return value reports whether the claim fell inside the validator's
	// domain at all.
	Validator func(domain map[string]float64) (result bool, inDomain bool) `json:"-"`
}

// AxiomScore is the result of evaluating a single axiom against a claim.
type AxiomScore struct {
	AxiomID   string  `json:"axiom_id"`
	Score     float64 `json:"score"` // +Weight or -Penalty on the validator path; in [-1, +1] on the model path
	Verdict   Verdict `json:"verdict"`
	Rationale string  `json:"rationale"`
}

// AggregateScore is the Judge's combined verdict across every enabled axiom.
type AggregateScore struct {
	Scores     []AxiomScore `json:"scores"`
	Total      float64      `json:"total"` // Sum(axiom.weight * score)
	Violations []string     `json:"violations"`
	Supports   []string     `json:"supports"`
}

// StepScore is the three-dimensional score a ProcessRewardModel assigns to a
// single ReasoningStep.
type StepScore struct {
	AxiomCompliance    float64 `json:"axiom_compliance"`
	LogicalConsistency float64 `json:"logical_consistency"`
	EvidenceStrength   float64 `json:"evidence_strength"`
	Overall            float64 `json:"overall"`
}

// ReasoningStep is one atomic proposition within a CoT variant.
type ReasoningStep struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	Score StepScore `json:"score"`
}

// Approach tags the diversity mechanism used to generate a CoT variant.
type Approach string

const (
	ApproachAnalytical  Approach = "analytical"
	ApproachEmpirical   Approach = "empirical"
	ApproachTheoretical Approach = "theoretical"
)

// ApproachOrder gives the deterministic tie-break order among approaches,
// lowest value first: analytical < empirical < theoretical.
var ApproachOrder = map[Approach]int{
	ApproachAnalytical:  0,
	ApproachEmpirical:   1,
	ApproachTheoretical: 2,
}

// Variant is one Chain-of-Thought reasoning chain competing with its siblings
// at a ToT node expansion.
type Variant struct {
	ID          string           `json:"id"`
	Approach    Approach         `json:"approach"`
	Temperature float64          `json:"temperature"`
	Steps       []*ReasoningStep `json:"steps"`
	Conclusion  string           `json:"conclusion"`

	// Aggregate is mean(step.Overall); Violation is set if any step has
	// Overall < 0.3.
	Aggregate float64 `json:"aggregate"`
	Violation bool    `json:"violation"`

	// InsertionOrder disambiguates ties beyond approach order.
	InsertionOrder int `json:"insertion_order"`
}

// NodeStatus is the state machine governing a ToT node's lifecycle:
// created -> expanding -> expanded -> (terminal | pruned).
type NodeStatus string

const (
	NodeCreated   NodeStatus = "created"
	NodeExpanding NodeStatus = "expanding"
	NodeExpanded  NodeStatus = "expanded"
	NodePruned    NodeStatus = "pruned"
	NodeTerminal  NodeStatus = "terminal"
)

// Node is a single vertex of the reasoning tree explored by MCTS.
type Node struct {
	ID       string     `json:"id"`
	ParentID string     `json:"parent_id,omitempty"`
	Question string     `json:"question"`
	Depth    int        `json:"depth"`
	Status   NodeStatus `json:"status"`

	Variants         []*Variant `json:"variants,omitempty"`
	SelectedVariant  string     `json:"selected_variant,omitempty"`
	FactFingerprints []string   `json:"fact_fingerprints,omitempty"`

	Visits           int     `json:"visits"`
	CumulativeReward float64 `json:"cumulative_reward"`
	Prior            float64 `json:"prior"`

	Coverage       float64 `json:"coverage"`
	AxiomAlignment float64 `json:"axiom_alignment"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edge connects a parent node to a child with the decomposition label that
// produced the child's question.
type Edge struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
	Label    string `json:"label"`
}

// SessionStatus is a session's terminal or in-progress outcome.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionComplete  SessionStatus = "complete"
	SessionExhausted SessionStatus = "exhausted"
	SessionFailed    SessionStatus = "failed"
)

// TransitionKind names an event-log record's kind, one per node state
// transition (plus session-level lifecycle events).
type TransitionKind string

const (
	TransitionNodeCreated    TransitionKind = "node_created"
	TransitionExpandStart    TransitionKind = "expand_start"
	TransitionFactsIngested  TransitionKind = "facts_ingested"
	TransitionExpandComplete TransitionKind = "expand_complete"
	TransitionExpandRollback TransitionKind = "expand_rollback"
	TransitionPruned         TransitionKind = "pruned"
	TransitionTerminal       TransitionKind = "terminal"
	TransitionBackprop       TransitionKind = "backprop"
	TransitionSessionStatus  TransitionKind = "session_status"
	TransitionError          TransitionKind = "error"
)

// Event is one record in the append-only event log. Replaying the log in
// LogicalClock order reconstructs the tree and FactStore bit-identically.
type Event struct {
	LogicalClock int64          `json:"logical_clock"`
	NodeID       string         `json:"node_id,omitempty"`
	Kind         TransitionKind `json:"kind"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// InfoActionKind names a proposal the UncertaintyEvaluator surfaces to the
// collaborator layer.
type InfoActionKind string

// InfoAction is a proposed information-gathering action tied to a node or
// conflict. The core only exposes these; execution is a collaborator concern.
type InfoAction struct {
	Kind   InfoActionKind `json:"kind"`
	NodeID string         `json:"node_id,omitempty"`
	Target string         `json:"target"`
}
