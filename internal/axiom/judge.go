package axiom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sovereign-research/orchestrator/internal/canon"
	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// Claim is the unit a Judge evaluates: free text plus, when the claim could
// be parsed into an SPO shape, the numeric domain the pure validators operate
// on.
type Claim struct {
	Text   string
	Domain map[string]float64
}

// ClaimFromTriple derives the validator domain from a triple: a numeric
// object becomes a field named "<predicate>_<unit>" (e.g. roi + years ->
// roi_years), plus a bare "<predicate>" alias so axioms can bind either way.
func ClaimFromTriple(t *types.Triple) Claim {
	c := Claim{
		Text:   fmt.Sprintf("%s %s %s %s", t.Subject, t.Predicate, t.Object, t.Unit),
		Domain: map[string]float64{},
	}
	if v, ok := canon.NumericValue(t.Object); ok {
		predicate := canon.NormalizePredicate(t.Predicate)
		c.Domain[predicate] = v
		if unit := canon.NormalizeUnit(t.Unit); unit != "" {
			c.Domain[predicate+"_"+sanitizeFieldToken(unit)] = v
		}
	}
	return c
}

func sanitizeFieldToken(s string) string {
	s = strings.ReplaceAll(s, "/", "_per_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// judgeVerdict is the constrained JSON the model-based path must return.
type judgeVerdict struct {
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Rationale string  `json:"rationale"`
}

// Judge scores claims against a Library. It is pure with respect to its
// inputs: the same axioms, claim, and model response always yield the same
// AggregateScore. The model path runs at the session's fixed judge
// temperature so that determinism stays controllable.
type Judge struct {
	library     *Library
	model       capability.LanguageModel
	temperature float64
	logger      *slog.Logger
}

// NewJudge builds a Judge over the given library. model may be nil, in which
// case rubric-only axioms score neutral (0) without any log entry — the
// rule-based kernel remains fully functional without any model.
func NewJudge(library *Library, model capability.LanguageModel, temperature float64, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{library: library, model: model, temperature: temperature, logger: logger}
}

// Library returns the immutable axiom snapshot this Judge evaluates against.
func (j *Judge) Library() *Library { return j.library }

// Evaluate scores a claim against every axiom in the library and aggregates.
//
// Per-axiom protocol: a pure validator whose domain covers the claim decides
// first (false -> -penalty/violates, true -> +weight/supports); otherwise the
// model path is consulted; a missing model or unparseable response scores
// neutral.
func (j *Judge) Evaluate(ctx context.Context, claim Claim) (*types.AggregateScore, error) {
	agg := &types.AggregateScore{}
	for _, a := range j.library.Axioms() {
		score := j.evaluateOne(ctx, a, claim)
		agg.Scores = append(agg.Scores, score)
		agg.Total += a.Weight * score.Score
		switch score.Verdict {
		case types.VerdictViolates:
			agg.Violations = append(agg.Violations, a.ID)
		case types.VerdictSupports:
			agg.Supports = append(agg.Supports, a.ID)
		}
	}
	return agg, nil
}

// EvaluateTriple is Evaluate over the claim derived from a stored triple.
func (j *Judge) EvaluateTriple(ctx context.Context, t *types.Triple) (*types.AggregateScore, error) {
	return j.Evaluate(ctx, ClaimFromTriple(t))
}

func (j *Judge) evaluateOne(ctx context.Context, a *types.Axiom, claim Claim) types.AxiomScore {
	if a.Validator != nil {
		if result, inDomain := a.Validator(claim.Domain); inDomain {
			if result {
				return types.AxiomScore{
					AxiomID:   a.ID,
					Score:     a.Weight,
					Verdict:   types.VerdictSupports,
					Rationale: "validator passed",
				}
			}
			return types.AxiomScore{
				AxiomID:   a.ID,
				Score:     -a.Penalty,
				Verdict:   types.VerdictViolates,
				Rationale: "validator failed",
			}
		}
	}
	return j.modelScore(ctx, a, claim)
}

func (j *Judge) modelScore(ctx context.Context, a *types.Axiom, claim Claim) types.AxiomScore {
	neutral := types.AxiomScore{AxiomID: a.ID, Verdict: types.VerdictNeutral, Rationale: "no applicable evaluation path"}
	if j.model == nil {
		return neutral
	}

	prompt := fmt.Sprintf(`Evaluate the following claim against the axiom below.

Axiom (%s): %s
Rubric: %s

Claim: %s

Respond with only a JSON object: {"score": <number in [-1,1]>, "verdict": "supports"|"neutral"|"violates", "rationale": "<short reason>"}`,
		a.ID, a.Label, a.Rubric, claim.Text)

	completion, err := j.model.Complete(ctx, capability.CompletionRequest{
		Prompt:          prompt,
		Temperature:     j.temperature,
		MaxOutputTokens: 256,
	})
	if err != nil {
		j.logger.Warn("axiom judge model call failed", "axiom", a.ID, "error", err)
		return neutral
	}

	verdict, ok := parseVerdict(completion.Text)
	if !ok {
		j.logger.Warn("axiom judge response unparseable", "axiom", a.ID, "response", completion.Text)
		return neutral
	}
	return types.AxiomScore{
		AxiomID:   a.ID,
		Score:     clamp(verdict.Score, -1, 1),
		Verdict:   parseVerdictLabel(verdict.Verdict),
		Rationale: verdict.Rationale,
	}
}

// parseVerdict extracts the first JSON object from text and decodes it.
// Models often wrap JSON in prose or fences; everything outside the outermost
// braces is ignored.
func parseVerdict(text string) (judgeVerdict, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return judgeVerdict{}, false
	}
	var v judgeVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return judgeVerdict{}, false
	}
	switch v.Verdict {
	case "supports", "neutral", "violates":
		return v, true
	default:
		return judgeVerdict{}, false
	}
}

func parseVerdictLabel(s string) types.Verdict {
	switch s {
	case "supports":
		return types.VerdictSupports
	case "violates":
		return types.VerdictViolates
	default:
		return types.VerdictNeutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
