// Package prm implements the Process Reward Model: per-step scoring across
// axiom compliance, logical consistency, and evidence strength. The default
// path is rule-based and fully deterministic; only axiom compliance may
// consult a model, and that is delegated entirely to the AxiomJudge.
package prm

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/spo"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// Model scores reasoning steps. Construction fails if the dimension weights
// do not sum to 1.0; a session must refuse to start rather than renormalize.
type Model struct {
	judge   *axiom.Judge
	weights config.PRMWeights
}

// New builds a Model over the session's Judge and weight tuple.
func New(judge *axiom.Judge, weights config.PRMWeights) (*Model, error) {
	if math.Abs(weights.Sum()-1.0) > 1e-9 {
		return nil, errs.New(errs.Fatal, "prm weights must sum to 1.0")
	}
	return &Model{judge: judge, weights: weights}, nil
}

// weakLanguage is the hedging vocabulary: a step whose only signal is drawn
// from this set has evidence strength exactly 0.
var weakLanguage = []string{
	"i think", "i guess", "i believe", "maybe", "perhaps", "probably",
	"possibly", "might be", "could be", "not sure", "it seems",
}

// attributionKeywords mark a claim as sourced.
var attributionKeywords = []string{
	"research from", "according to", "study", "studies", "shows", "reports",
	"measured", "data from", "source:", "published", "survey",
}

// logicalConnectors reward an explicit inference when preceded by a premise.
var logicalConnectors = []string{
	"therefore", "because", "since", "thus", "hence", "consequently",
	"it follows",
}

// numberWithUnitRE matches a numeric literal immediately followed by a unit
// token ("4500 kWh", "7.9 years", "40%").
var numberWithUnitRE = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:%|[A-Za-z€][A-Za-z/€]*)`)

// ScoreStep fills in step.Score and returns it. The step's implied claim is
// parsed from any inline fact notation; absent that, the raw text goes down
// the Judge's rubric path.
func (m *Model) ScoreStep(ctx context.Context, step *types.ReasoningStep) (types.StepScore, error) {
	axiomScore, err := m.axiomCompliance(ctx, step.Text)
	if err != nil {
		return types.StepScore{}, err
	}

	score := types.StepScore{
		AxiomCompliance:    axiomScore,
		LogicalConsistency: LogicalConsistency(step.Text),
		EvidenceStrength:   EvidenceStrength(step.Text),
	}
	score.Overall = m.weights.Axiom*score.AxiomCompliance +
		m.weights.Logic*score.LogicalConsistency +
		m.weights.Evidence*score.EvidenceStrength
	step.Score = score
	return score, nil
}

// axiomCompliance maps the Judge's signed aggregate onto [0,1], with 0.5 as
// the neutral midpoint. Judge totals are normalized by the library's total
// weight so that adding axioms does not inflate compliance.
func (m *Model) axiomCompliance(ctx context.Context, text string) (float64, error) {
	claim := axiom.Claim{Text: text, Domain: map[string]float64{}}
	if facts, _ := spo.ExtractFromText(text); len(facts) > 0 {
		for _, f := range facts {
			for k, v := range f.Domain() {
				claim.Domain[k] = v
			}
		}
	}

	agg, err := m.judge.Evaluate(ctx, claim)
	if err != nil {
		return 0, err
	}

	var totalWeight float64
	for _, a := range m.judge.Library().Axioms() {
		totalWeight += a.Weight
	}
	if totalWeight == 0 {
		return 0.5, nil
	}
	normalized := agg.Total / totalWeight
	if normalized > 1 {
		normalized = 1
	}
	if normalized < -1 {
		normalized = -1
	}
	return (normalized + 1) / 2, nil
}

// EvidenceStrength is the rule-based evidence detector. Strong-evidence
// tokens (numbers with units, attribution keywords) raise the score
// additively; hedging language subtracts. A step with only weak language
// scores exactly 0.
func EvidenceStrength(text string) float64 {
	lower := strings.ToLower(text)

	score := 0.0
	numbers := numberWithUnitRE.FindAllString(text, -1)
	if len(numbers) > 0 {
		score += 0.4
		if len(numbers) > 1 {
			score += 0.1 * float64(len(numbers)-1)
		}
	}
	for _, kw := range attributionKeywords {
		if strings.Contains(lower, kw) {
			score += 0.4
			break
		}
	}
	if strings.Contains(lower, "cite") || strings.Contains(lower, "reference") {
		score += 0.1
	}

	for _, weak := range weakLanguage {
		if strings.Contains(lower, weak) {
			score -= 0.2
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// LogicalConsistency rewards explicit inference structure and penalizes
// in-step contradictions. Baseline is 0.5: prose that neither argues nor
// contradicts is merely unremarkable.
func LogicalConsistency(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.5

	for _, conn := range logicalConnectors {
		idx := strings.Index(lower, conn)
		if idx < 0 {
			continue
		}
		// A connector with no preceding premise text is rhetorical, not
		// inferential.
		if premiseLike(lower[:idx]) {
			score += 0.2
		}
	}

	if hasContradiction(lower) {
		score -= 0.4
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// premiseLike reports whether the text before a connector contains enough
// content to be a premise.
func premiseLike(prefix string) bool {
	return len(strings.Fields(prefix)) >= 3
}

// copulaRE captures "X is [not] Y" claims for opposite-polarity detection.
var copulaRE = regexp.MustCompile(`(\w+)\s+is\s+(not\s+)?(\w+)`)

// hasContradiction detects a same-entity opposite-polarity pair within the
// step ("the inverter is reliable ... the inverter is not reliable").
func hasContradiction(lower string) bool {
	type claim struct {
		entity    string
		attribute string
	}
	polarity := map[claim]bool{}
	for _, m := range copulaRE.FindAllStringSubmatch(lower, -1) {
		c := claim{entity: m[1], attribute: m[3]}
		negated := m[2] != ""
		if prev, seen := polarity[c]; seen && prev != negated {
			return true
		}
		polarity[c] = negated
	}
	return false
}
