// Package cot implements the multi-variant Chain-of-Thought generator: for a
// ToT node it produces exactly N reasoning variants with deliberately diverse
// (approach, temperature) pairs, parses them into scored steps, and never
// returns fewer than N even when the model produces nothing usable.
package cot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/prm"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// violationFloor is the step score below which a variant carries the
// violation flag.
const violationFloor = 0.3

// defaultApproaches is the built-in diversity ladder; a Generator configured
// with more variants than approaches cycles through them.
var defaultApproaches = []types.Approach{
	types.ApproachAnalytical,
	types.ApproachEmpirical,
	types.ApproachTheoretical,
}

// Generator produces CoT variants for a node question.
type Generator struct {
	model  capability.LanguageModel
	scorer *prm.Model
	retry  *capability.RetryPolicy
	logger *slog.Logger

	// Approaches overrides the default approach ladder when non-empty.
	Approaches []types.Approach
}

// NewGenerator builds a Generator over the session's model and PRM.
func NewGenerator(model capability.LanguageModel, scorer *prm.Model, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		model:  model,
		scorer: scorer,
		retry:  capability.DefaultRetryPolicy(),
		logger: logger,
	}
}

// Generate produces exactly len(temperatures) variants for the question.
// Each variant's steps are scored by the PRM and its aggregate and violation
// flag are filled in before return.
func (g *Generator) Generate(ctx context.Context, nodeID, question string, temperatures []float64) ([]*types.Variant, error) {
	approaches := g.Approaches
	if len(approaches) == 0 {
		approaches = defaultApproaches
	}

	variants := make([]*types.Variant, 0, len(temperatures))
	for i, temp := range temperatures {
		approach := approaches[i%len(approaches)]
		variant, err := g.generateOne(ctx, nodeID, question, approach, temp, i)
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, nil
}

// generateOne runs one (approach, temperature) pair: a model call, a parse, a
// single retry on empty output, and finally the synthetic no-output variant
// so that N is preserved no matter what the model did.
func (g *Generator) generateOne(ctx context.Context, nodeID, question string, approach types.Approach, temperature float64, order int) (*types.Variant, error) {
	variant := &types.Variant{
		ID:             fmt.Sprintf("%s-variant-%d", nodeID, order),
		Approach:       approach,
		Temperature:    temperature,
		InsertionOrder: order,
	}

	for attempt := 0; attempt < 2; attempt++ {
		text, err := g.complete(ctx, question, approach, temperature)
		if err != nil {
			return nil, err
		}
		steps, conclusion := ParseVariantText(text)
		if len(steps) == 0 || conclusion == "" {
			continue
		}
		variant.Steps = steps
		variant.Conclusion = conclusion
		break
	}

	if len(variant.Steps) == 0 {
		g.logger.Warn("variant produced no parseable output twice, substituting synthetic step",
			"node", nodeID, "approach", approach)
		variant.Steps = []*types.ReasoningStep{{Index: 0, Text: "no-output"}}
		variant.Conclusion = ""
		variant.Aggregate = 0
		return variant, nil
	}

	var sum float64
	for _, step := range variant.Steps {
		score, err := g.scorer.ScoreStep(ctx, step)
		if err != nil {
			return nil, err
		}
		sum += score.Overall
		if score.Overall < violationFloor {
			variant.Violation = true
		}
	}
	variant.Aggregate = sum / float64(len(variant.Steps))
	return variant, nil
}

func (g *Generator) complete(ctx context.Context, question string, approach types.Approach, temperature float64) (string, error) {
	req := capability.CompletionRequest{
		Prompt:          BuildPrompt(question, approach),
		System:          systemPrompt,
		Temperature:     temperature,
		MaxOutputTokens: 2048,
	}

	var completion capability.Completion
	err := g.retry.Do(ctx, classifyCapabilityError, func(ctx context.Context) error {
		var callErr error
		completion, callErr = g.model.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// classifyCapabilityError maps a capability error onto the kernel's retry
// policy: only errors already tagged transient are retried.
func classifyCapabilityError(err error) errs.Kind {
	if errs.Is(err, errs.CapabilityTransient) {
		return errs.CapabilityTransient
	}
	return errs.CapabilityPermanent
}

const systemPrompt = `You are a careful research assistant. Reason in discrete steps.
Format every response as:
STEP: <one atomic proposition>
FACT: <subject> | <predicate> | <object> [| <unit>]   (optional, one per verifiable fact)
CONCLUSION: <one-sentence conclusion>`

// approachPrompts steer each variant toward a distinct reasoning style.
var approachPrompts = map[types.Approach]string{
	types.ApproachAnalytical:  "Decompose the question analytically: identify the quantities involved, derive relationships, and compute.",
	types.ApproachEmpirical:   "Reason empirically: ground every step in reported measurements, studies, or field experience.",
	types.ApproachTheoretical: "Reason from first principles: apply the governing theory and derive what must hold.",
}

// BuildPrompt renders the per-approach user prompt for a node question.
func BuildPrompt(question string, approach types.Approach) string {
	style, ok := approachPrompts[approach]
	if !ok {
		style = approachPrompts[types.ApproachAnalytical]
	}
	return fmt.Sprintf("%s\n\nQuestion: %s", style, question)
}

// ParseVariantText splits model output into reasoning steps and a
// conclusion. FACT lines attach to the step above them so the PRM and the
// SPO extractor see them in context. Unmarked prose is ignored.
func ParseVariantText(text string) ([]*types.ReasoningStep, string) {
	var steps []*types.ReasoningStep
	var conclusion string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case hasPrefixFold(trimmed, "STEP:"):
			body := strings.TrimSpace(trimmed[len("STEP:"):])
			if body == "" {
				continue
			}
			steps = append(steps, &types.ReasoningStep{Index: len(steps), Text: body})
		case hasPrefixFold(trimmed, "FACT:"):
			if len(steps) == 0 {
				continue
			}
			last := steps[len(steps)-1]
			last.Text = last.Text + "\n" + trimmed
		case hasPrefixFold(trimmed, "CONCLUSION:"):
			conclusion = strings.TrimSpace(trimmed[len("CONCLUSION:"):])
		}
	}
	return steps, conclusion
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
