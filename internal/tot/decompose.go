package tot

import (
	"strings"

	"github.com/sovereign-research/orchestrator/internal/spo"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// SubQuestion is one proposed child question with the decomposition label
// that becomes the tree edge.
type SubQuestion struct {
	Question string
	Label    string
}

// Decompose proposes up to branchingFactor child questions from the winning
// variant. The heuristic is deliberately deterministic: facts the variant
// asserted become verification sub-questions first, then unsourced steps
// become investigation sub-questions. A variant with nothing to follow up on
// (e.g. the synthetic no-output step) proposes no children.
func Decompose(question string, selected *types.Variant, branchingFactor int) []SubQuestion {
	if selected == nil || branchingFactor < 1 {
		return nil
	}

	var subs []SubQuestion
	seen := map[string]bool{}

	var text string
	for _, step := range selected.Steps {
		text += step.Text + "\n"
	}
	facts, _ := spo.ExtractFromText(text)
	for _, f := range facts {
		if len(subs) >= branchingFactor {
			return subs
		}
		q := "What independent evidence supports " + f.Subject + " " + f.Predicate + " = " + f.Object
		if f.Unit != "" {
			q += " " + f.Unit
		}
		q += "?"
		if seen[q] {
			continue
		}
		seen[q] = true
		subs = append(subs, SubQuestion{Question: q, Label: "verify:" + f.Subject + "/" + f.Predicate})
	}

	for _, step := range selected.Steps {
		if len(subs) >= branchingFactor {
			return subs
		}
		lead := firstSentence(step.Text)
		if lead == "" || lead == "no-output" {
			continue
		}
		q := "Examine further: " + lead
		if seen[q] {
			continue
		}
		seen[q] = true
		subs = append(subs, SubQuestion{Question: q, Label: "investigate"})
	}
	return subs
}

func firstSentence(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	// Split on sentence-ending period, not decimal points.
	if idx := strings.Index(line, ". "); idx > 0 {
		return line[:idx+1]
	}
	return line
}
