package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/canon"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// mergedSource is the synthetic primary source attributed to triples created
// by automatic numerical merges.
const mergedSource = "auto-merge"

// Promoter applies the promotion rules and the conflict escalation ladder
// after every batch insert. It is the only component that calls
// FactStore.Promote, keeping the tier pipeline in one place.
type Promoter struct {
	store     factstore.FactStore
	judge     *axiom.Judge
	consensus ConsensusScorer
	logger    *slog.Logger

	// ConsensusThreshold is the session's tier_thresholds.consensus value.
	ConsensusThreshold float64
	// EmpiricalSources are provenance identifiers that count as empirical
	// validation for the Silver -> Gold rule.
	EmpiricalSources []string
	// AuthoritySources are provenance identifiers trusted to settle a
	// conflict at escalation rung 2.
	AuthoritySources []string

	// MergeTolerance is the maximum relative numerical divergence that still
	// auto-merges instead of conflicting. Defaults to 0.05.
	MergeTolerance float64
}

// NewPromoter builds a Promoter. consensus may be nil, in which case the
// consensus leg of the Gold rule never fires.
func NewPromoter(store factstore.FactStore, judge *axiom.Judge, consensus ConsensusScorer, consensusThreshold float64, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{
		store:              store,
		judge:              judge,
		consensus:          consensus,
		logger:             logger,
		ConsensusThreshold: consensusThreshold,
		EmpiricalSources:   []string{"empirical-validation"},
		MergeTolerance:     0.05,
	}
}

// ProcessBatch cross-references the freshly inserted fingerprints against the
// store, records or merges incompatibilities, and runs the promotion pass
// over every triple the batch touched. It is the second half of the
// insert-and-promote transaction: callers hold their batch until ProcessBatch
// returns. The returned fingerprints are every triple the pass touched
// (inserted, merged, superseded, or promoted), in deterministic order — the
// event log snapshots them for replay.
func (p *Promoter) ProcessBatch(ctx context.Context, fingerprints []string) ([]string, error) {
	touched := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		extra, err := p.crossReference(ctx, fp)
		if err != nil {
			return nil, err
		}
		touched[fp] = true
		for _, t := range extra {
			touched[t] = true
		}
	}

	ordered := make([]string, 0, len(touched))
	for fp := range touched {
		ordered = append(ordered, fp)
	}
	sort.Strings(ordered)

	for _, fp := range ordered {
		if err := p.promote(ctx, fp); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// crossReference compares the triple against stored triples sharing its
// (subject, predicate). Compatible numeric near-duplicates (within
// MergeTolerance) merge; incompatible pairs get a Conflict record. Returns
// the fingerprints of any other triples the pass touched.
func (p *Promoter) crossReference(ctx context.Context, fp string) ([]string, error) {
	triple, ok, err := p.store.Get(ctx, fp)
	if err != nil {
		return nil, err
	}
	if !ok || triple.InvalidatedBy != "" {
		return nil, nil
	}

	siblings, err := p.store.Query(ctx, factstore.QueryFilter{
		Subject:   triple.Subject,
		Predicate: triple.Predicate,
	})
	if err != nil {
		return nil, err
	}

	var touched []string
	for _, other := range siblings {
		if other.Fingerprint == triple.Fingerprint {
			continue
		}
		div, numeric := canon.Divergence(triple.Object, triple.Unit, other.Object, other.Unit)
		switch {
		case numeric && div <= p.MergeTolerance:
			mergedFP, err := p.mergeNumeric(ctx, triple, other)
			if err != nil {
				return nil, err
			}
			touched = append(touched, other.Fingerprint, mergedFP)
			// The merged triple replaces this one; stop comparing it.
			return touched, nil
		case numeric:
			if _, err := p.store.RecordConflict(ctx, triple.Fingerprint, other.Fingerprint, types.ConflictNumericalMismatch); err != nil {
				return nil, err
			}
			p.logger.Warn("numerical conflict recorded",
				"subject", triple.Subject, "predicate", triple.Predicate,
				"a", triple.Object, "b", other.Object, "divergence", div)
			touched = append(touched, other.Fingerprint)
		default:
			if _, err := p.store.RecordConflict(ctx, triple.Fingerprint, other.Fingerprint, types.ConflictCategoricalDisagree); err != nil {
				return nil, err
			}
			touched = append(touched, other.Fingerprint)
		}
	}
	return touched, nil
}

// mergeNumeric resolves a near-duplicate pair by inserting a
// provenance-weighted mean triple and superseding both contributors. When
// the mean lands on a contributor's own fingerprint (an earlier merge with
// the same value), that triple absorbs the other's provenance and is not
// superseded by itself.
func (p *Promoter) mergeNumeric(ctx context.Context, a, b *types.Triple) (string, error) {
	va, _ := canon.NumericValue(a.Object)
	vb, _ := canon.NumericValue(b.Object)
	wa := float64(len(a.Provenance))
	wb := float64(len(b.Provenance))
	if wa == 0 {
		wa = 1
	}
	if wb == 0 {
		wb = 1
	}
	mean := (va*wa + vb*wb) / (wa + wb)

	merged := &types.Triple{
		Subject:       a.Subject,
		Predicate:     a.Predicate,
		Object:        formatNumber(mean),
		Unit:          canon.NormalizeUnit(a.Unit),
		PrimarySource: mergedSource,
		Provenance:    append(append([]string{}, a.Provenance...), b.Provenance...),
		Confidence:    maxF(a.Confidence, b.Confidence),
	}
	fp, err := p.store.Insert(ctx, merged)
	if err != nil {
		return "", err
	}
	for _, contributor := range []*types.Triple{a, b} {
		if contributor.Fingerprint == fp {
			continue
		}
		if err := p.store.Supersede(ctx, contributor.Fingerprint, fp); err != nil {
			return "", err
		}
	}
	return fp, nil
}

func formatNumber(v float64) string {
	return fmt.Sprintf("%g", v)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// promote applies the tier ladder to one triple: Bronze -> Silver on
// independent provenance with no unresolved conflicts, Silver -> Gold on
// non-negative axiom alignment plus empirical or consensus backing.
func (p *Promoter) promote(ctx context.Context, fp string) error {
	triple, ok, err := p.store.Get(ctx, fp)
	if err != nil {
		return err
	}
	if !ok || triple.InvalidatedBy != "" {
		return nil
	}

	if triple.Tier == types.TierBronze {
		eligible, err := p.silverEligible(ctx, triple)
		if err != nil {
			return err
		}
		if !eligible {
			return nil
		}
		if err := p.store.Promote(ctx, fp, types.TierSilver); err != nil {
			return err
		}
		triple.Tier = types.TierSilver
	}

	if triple.Tier == types.TierSilver {
		eligible, err := p.goldEligible(ctx, triple)
		if err != nil {
			return err
		}
		if eligible {
			return p.store.Promote(ctx, fp, types.TierGold)
		}
	}
	return nil
}

func (p *Promoter) silverEligible(ctx context.Context, triple *types.Triple) (bool, error) {
	if countIndependent(triple.Provenance) < 2 {
		return false, nil
	}
	conflicts, err := p.store.Conflicts(ctx, triple.Fingerprint)
	if err != nil {
		return false, err
	}
	for _, c := range conflicts {
		if c.Status == types.ConflictUnresolved || c.Status == types.ConflictAwaitingArbiter {
			return false, nil
		}
	}
	return true, nil
}

func (p *Promoter) goldEligible(ctx context.Context, triple *types.Triple) (bool, error) {
	agg, err := p.judge.EvaluateTriple(ctx, triple)
	if err != nil {
		return false, err
	}
	if agg.Total < 0 {
		return false, nil
	}

	for _, src := range triple.Provenance {
		for _, empirical := range p.EmpiricalSources {
			if src == empirical {
				return true, nil
			}
		}
	}

	if p.consensus == nil {
		return false, nil
	}
	score, err := p.consensus.Score(ctx, triple)
	if err != nil {
		return false, err
	}
	return score >= p.ConsensusThreshold, nil
}

// countIndependent counts distinct non-synthetic source identifiers.
func countIndependent(provenance []string) int {
	seen := make(map[string]bool, len(provenance))
	for _, src := range provenance {
		if src == "" || src == mergedSource {
			continue
		}
		seen[src] = true
	}
	return len(seen)
}

// EscalateConflicts walks every unresolved conflict through the resolution
// ladder: automatic numerical merge, then source-authority resolution, then
// awaiting-arbitration. The core records the rung reached; it never decides
// an arbitration.
func (p *Promoter) EscalateConflicts(ctx context.Context) error {
	conflicts, err := p.store.Conflicts(ctx)
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		if c.Status != types.ConflictUnresolved {
			continue
		}
		if err := p.escalateOne(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Promoter) escalateOne(ctx context.Context, c *types.Conflict) error {
	a, okA, err := p.store.Get(ctx, c.A)
	if err != nil {
		return err
	}
	b, okB, err := p.store.Get(ctx, c.B)
	if err != nil {
		return err
	}
	if !okA || !okB {
		return p.store.ResolveConflict(ctx, c.ID, types.ConflictAwaitingArbiter, "participant missing")
	}

	// Rung 1: automatic merge for near-agreeing numericals.
	if div, numeric := canon.Divergence(a.Object, a.Unit, b.Object, b.Unit); numeric && div <= p.MergeTolerance {
		fp, err := p.mergeNumeric(ctx, a, b)
		if err != nil {
			return err
		}
		return p.store.ResolveConflict(ctx, c.ID, types.ConflictResolvedMerged, "merged into "+fp)
	}

	// Rung 2: a designated authority source settles the disagreement.
	if winner, loser, ok := p.authorityWinner(a, b); ok {
		if err := p.store.Supersede(ctx, loser.Fingerprint, winner.Fingerprint); err != nil {
			return err
		}
		return p.store.ResolveConflict(ctx, c.ID, types.ConflictResolvedAuthority, "authority source favors "+winner.Fingerprint)
	}

	// Rung 3: surfaced without a decision.
	return p.store.ResolveConflict(ctx, c.ID, types.ConflictAwaitingArbiter, "")
}

func (p *Promoter) authorityWinner(a, b *types.Triple) (winner, loser *types.Triple, ok bool) {
	aAuth := p.hasAuthority(a.Provenance)
	bAuth := p.hasAuthority(b.Provenance)
	switch {
	case aAuth && !bAuth:
		return a, b, true
	case bAuth && !aAuth:
		return b, a, true
	default:
		return nil, nil, false
	}
}

func (p *Promoter) hasAuthority(provenance []string) bool {
	for _, src := range provenance {
		for _, auth := range p.AuthoritySources {
			if src == auth {
				return true
			}
		}
	}
	return false
}
