package factstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sovereign-research/orchestrator/internal/canon"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// MemoryStore is the canonical in-memory FactStore engine: it owns
// fingerprint dedup, provenance merge, tier monotonicity,
// supersede-not-delete, and conflict recording. The badger, sqlite, and
// neo4j backends wrap MemoryStore as a write-through cache over durable
// persistence.
//
// All retrieval methods return deep copies so that callers cannot mutate
// stored state out from under the store.
type MemoryStore struct {
	mu sync.RWMutex

	triples   map[string]*types.Triple
	conflicts map[string]*types.Conflict
	// conflictByPair lets RecordConflict be idempotent on a fingerprint pair
	// regardless of argument order.
	conflictByPair map[string]string

	conflictCounter int

	// inserts collapses concurrent inserts racing on the same fingerprint
	// into one write, without a heavier per-fingerprint lock.
	inserts singleflight.Group
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		triples:        make(map[string]*types.Triple),
		conflicts:      make(map[string]*types.Conflict),
		conflictByPair: make(map[string]string),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Insert implements FactStore.Insert.
func (s *MemoryStore) Insert(ctx context.Context, triple *types.Triple) (string, error) {
	if triple.Subject == "" || triple.Predicate == "" || triple.Object == "" || triple.PrimarySource == "" {
		return "", errs.New(errs.InvalidInput, "triple has an empty required field")
	}
	if _, ok := canon.NumericValue(triple.Object); ok && triple.Unit == "" {
		return "", errs.New(errs.InvalidInput, "numeric object requires an explicit unit")
	}

	subject := canon.NormalizeText(triple.Subject)
	predicate := canon.NormalizePredicate(triple.Predicate)
	fp := canon.Fingerprint(triple.Subject, triple.Predicate, triple.Object, triple.Unit, triple.PrimarySource)

	result, err, _ := s.inserts.Do(fp, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if existing, ok := s.triples[fp]; ok {
			s.mergeInto(existing, triple)
			return fp, nil
		}

		stored := &types.Triple{
			Fingerprint:   fp,
			Subject:       subject,
			Predicate:     predicate,
			Object:        triple.Object,
			Unit:          triple.Unit,
			PrimarySource: triple.PrimarySource,
			Provenance:    dedupeProvenance(append([]string{triple.PrimarySource}, triple.Provenance...)),
			Confidence:    triple.Confidence,
			Tier:          types.TierBronze,
			CreatedAt:     now().UTC(),
		}
		if stored.Confidence == 0 {
			stored.Confidence = 0.5
		}
		s.triples[fp] = stored
		return fp, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// mergeInto merges incoming into existing: union provenance, confidence
// becomes max(existing,new) if the incoming source is new to the triple,
// tier is left unchanged (promotion is a separate call). Caller holds s.mu.
func (s *MemoryStore) mergeInto(existing *types.Triple, incoming *types.Triple) {
	hadSource := contains(existing.Provenance, incoming.PrimarySource)
	existing.Provenance = dedupeProvenance(append(append([]string{}, existing.Provenance...), incoming.Provenance...))
	existing.Provenance = dedupeProvenance(append(existing.Provenance, incoming.PrimarySource))
	if !hadSource {
		if incoming.Confidence > existing.Confidence {
			existing.Confidence = incoming.Confidence
		}
	}
}

func dedupeProvenance(sources []string) []string {
	seen := make(map[string]bool, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

// now is a var so tests can pin creation timestamps for ordering assertions
// without depending on wall-clock resolution.
var now = time.Now

// Query implements FactStore.Query.
func (s *MemoryStore) Query(ctx context.Context, filter QueryFilter) ([]*types.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subject, predicate string
	if filter.Subject != "" {
		subject = canon.NormalizeText(filter.Subject)
	}
	if filter.Predicate != "" {
		predicate = canon.NormalizePredicate(filter.Predicate)
	}

	out := make([]*types.Triple, 0, len(s.triples))
	for _, t := range s.triples {
		if !filter.IncludeSuperseded && t.InvalidatedBy != "" {
			continue
		}
		if subject != "" && t.Subject != subject {
			continue
		}
		if predicate != "" && t.Predicate != predicate {
			continue
		}
		if filter.Object != "" && canon.NormalizedObjectKey(t.Object, t.Unit) != canon.NormalizedObjectKey(filter.Object, t.Unit) {
			continue
		}
		if filter.HasMinTier && t.Tier < filter.MinTier {
			continue
		}
		if t.Confidence < filter.MinConfidence {
			continue
		}
		out = append(out, cloneTriple(t))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier > out[j].Tier
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

func cloneTriple(t *types.Triple) *types.Triple {
	c := *t
	c.Provenance = append([]string(nil), t.Provenance...)
	return &c
}

// Get implements FactStore.Get.
func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*types.Triple, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triples[fingerprint]
	if !ok {
		return nil, false, nil
	}
	return cloneTriple(t), true, nil
}

// RecordConflict implements FactStore.RecordConflict.
func (s *MemoryStore) RecordConflict(ctx context.Context, aFP, bFP string, kind types.ConflictKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(aFP, bFP)
	if id, ok := s.conflictByPair[key]; ok {
		return id, nil
	}

	s.conflictCounter++
	id := fmt.Sprintf("conflict-%d", s.conflictCounter)
	s.conflicts[id] = &types.Conflict{
		ID:        id,
		A:         aFP,
		B:         bFP,
		Kind:      kind,
		Status:    types.ConflictUnresolved,
		CreatedAt: now(),
	}
	s.conflictByPair[key] = id
	return id, nil
}

// Supersede implements FactStore.Supersede.
func (s *MemoryStore) Supersede(ctx context.Context, oldFP, newFP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.triples[oldFP]
	if !ok {
		return errs.New(errs.InvalidInput, "supersede: unknown old fingerprint "+oldFP)
	}
	if _, ok := s.triples[newFP]; !ok {
		return errs.New(errs.InvalidInput, "supersede: unknown new fingerprint "+newFP)
	}
	old.InvalidatedBy = newFP
	return nil
}

// Promote implements FactStore.Promote, enforcing tier monotonicity.
func (s *MemoryStore) Promote(ctx context.Context, fingerprint string, tier types.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triples[fingerprint]
	if !ok {
		return errs.New(errs.InvalidInput, "promote: unknown fingerprint "+fingerprint)
	}
	if tier < t.Tier {
		return errs.New(errs.Fatal, fmt.Sprintf("tier monotonicity violated: %s -> %s for %s", t.Tier, tier, fingerprint))
	}
	t.Tier = tier
	return nil
}

// Conflicts implements FactStore.Conflicts.
func (s *MemoryStore) Conflicts(ctx context.Context, fingerprints ...string) ([]*types.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		want[fp] = true
	}

	out := make([]*types.Conflict, 0)
	for _, c := range s.conflicts {
		if len(want) > 0 && !want[c.A] && !want[c.B] {
			continue
		}
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResolveConflict implements FactStore.ResolveConflict.
func (s *MemoryStore) ResolveConflict(ctx context.Context, conflictID string, status types.ConflictStatus, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[conflictID]
	if !ok {
		return errs.New(errs.InvalidInput, "resolve_conflict: unknown conflict "+conflictID)
	}
	c.Status = status
	c.Resolution = resolution
	return nil
}

// StatsByTier implements FactStore.StatsByTier. Superseded triples are
// excluded, matching the "active store" view Query's default flags present.
func (s *MemoryStore) StatsByTier(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, t := range s.triples {
		if t.InvalidatedBy != "" {
			continue
		}
		switch t.Tier {
		case types.TierBronze:
			st.Bronze++
		case types.TierSilver:
			st.Silver++
		case types.TierGold:
			st.Gold++
		}
	}
	for _, c := range s.conflicts {
		if c.Status == types.ConflictUnresolved || c.Status == types.ConflictAwaitingArbiter {
			st.Conflicts++
		}
	}
	return st, nil
}

// RestoreTriple installs a triple verbatim, bypassing ingest validation and
// normalization. Replay-only: the triple must have come out of this store.
func (s *MemoryStore) RestoreTriple(t *types.Triple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triples[t.Fingerprint] = cloneTriple(t)
}

// RestoreConflict installs a conflict record verbatim. Replay-only.
func (s *MemoryStore) RestoreConflict(c *types.Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.conflicts[c.ID] = &clone
	s.conflictByPair[pairKey(c.A, c.B)] = c.ID
	if len(s.conflicts) > s.conflictCounter {
		s.conflictCounter = len(s.conflicts)
	}
}

// Close is a no-op for MemoryStore; there is no external resource to
// release.
func (s *MemoryStore) Close() error { return nil }

var _ FactStore = (*MemoryStore)(nil)
