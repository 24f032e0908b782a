// Package verifier implements source cross-referencing and the tier
// promotion pipeline: Bronze facts gain Silver through independent
// provenance, Silver facts gain Gold through axiom alignment plus either an
// empirical-validation source or external-experience consensus.
package verifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// ConsensusScorer produces the external-experience consensus score in [0,1]
// for a triple. A score above the session's configured threshold counts
// toward Gold promotion.
type ConsensusScorer interface {
	Score(ctx context.Context, triple *types.Triple) (float64, error)
}

// StaticConsensus is the deterministic fake used in tests and in sessions
// that run without external sources: a fixed score per fingerprint, zero for
// everything else.
type StaticConsensus struct {
	Scores map[string]float64
}

// Score implements ConsensusScorer from the fixed table.
func (s *StaticConsensus) Score(ctx context.Context, triple *types.Triple) (float64, error) {
	return s.Scores[triple.Fingerprint], nil
}

// ChromemConsensus measures how strongly independent external sources agree
// with a triple: it fetches documents for the triple's subject through the
// SourceAdapter capability, embeds them into a chromem-go collection, and
// scores the triple by its mean similarity to documents from sources outside
// the triple's own provenance.
type ChromemConsensus struct {
	db      *chromem.DB
	adapter capability.SourceAdapter
	embed   chromem.EmbeddingFunc

	// SourceKind is passed through to SourceAdapter.Fetch; defaults to
	// "experience".
	SourceKind string
}

// NewChromemConsensus builds a consensus scorer over an in-memory vector
// store. The embedding function is local and deterministic (hashed
// bag-of-words), so consensus scoring never suspends on a model call and two
// runs over the same documents agree exactly.
func NewChromemConsensus(adapter capability.SourceAdapter) *ChromemConsensus {
	return &ChromemConsensus{
		db:         chromem.NewDB(),
		adapter:    adapter,
		embed:      localEmbedding,
		SourceKind: "experience",
	}
}

const embeddingDim = 128

// localEmbedding maps text onto a fixed-dimension hashed bag-of-words
// vector. It is deliberately model-free: deterministic, allocation-bounded,
// and good enough to measure lexical agreement between short fact statements.
func localEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%embeddingDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Score implements ConsensusScorer.
func (c *ChromemConsensus) Score(ctx context.Context, triple *types.Triple) (float64, error) {
	query := triple.Subject + " " + triple.Predicate
	docs, err := c.adapter.Fetch(ctx, query, c.SourceKind)
	if err != nil {
		return 0, fmt.Errorf("verifier: fetch consensus sources: %w", err)
	}

	own := make(map[string]bool, len(triple.Provenance))
	for _, src := range triple.Provenance {
		own[src] = true
	}

	collection, err := c.db.GetOrCreateCollection("consensus-"+triple.Fingerprint, nil, c.embed)
	if err != nil {
		return 0, fmt.Errorf("verifier: create consensus collection: %w", err)
	}

	external := 0
	for i, doc := range docs {
		if own[doc.SourceID] {
			continue
		}
		err := collection.AddDocument(ctx, chromem.Document{
			ID:       fmt.Sprintf("doc-%d", i),
			Content:  doc.Text,
			Metadata: map[string]string{"source": doc.SourceID},
		})
		if err != nil {
			return 0, fmt.Errorf("verifier: embed consensus document: %w", err)
		}
		external++
	}
	if external == 0 {
		return 0, nil
	}

	statement := fmt.Sprintf("%s %s %s %s", triple.Subject, triple.Predicate, triple.Object, triple.Unit)
	k := external
	if k > 5 {
		k = 5
	}
	results, err := collection.Query(ctx, statement, k, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("verifier: consensus query: %w", err)
	}

	var sum float64
	for _, r := range results {
		sum += float64(r.Similarity)
	}
	if len(results) == 0 {
		return 0, nil
	}
	score := sum / float64(len(results))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
