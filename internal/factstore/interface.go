// Package factstore implements the content-addressed SPO triple store:
// deduplication by fingerprint, provenance merge, conflict recording,
// superseding, and deterministic querying. The engine lives in MemoryStore;
// the badger, sqlite, and neo4j backends wrap it as a write-through cache
// over durable persistence.
package factstore

import (
	"context"

	"github.com/sovereign-research/orchestrator/internal/types"
)

// QueryFilter selects triples by any combination of subject, predicate,
// object, minimum tier, and minimum confidence. Empty/zero fields are
// wildcards.
type QueryFilter struct {
	Subject      string
	Predicate    string
	Object       string
	MinTier      types.Tier
	HasMinTier   bool
	MinConfidence float64
	// IncludeSuperseded, when false (the default), excludes triples that
	// have been superseded via an invalidates link.
	IncludeSuperseded bool
}

// Stats is the per-tier and conflict summary returned by StatsByTier. The
// unresolved-conflict count rides along so callers can watch contradiction
// pressure without a second query.
type Stats struct {
	Bronze    int
	Silver    int
	Gold      int
	Conflicts int
}

// FactStore is the persistence capability for SPO triples. Every method
// must be safe for concurrent use: cross-session writes to a shared store
// are serialized, and insert-and-promote behaves as one transaction so a
// reader never observes a triple between insert and the promotion pass.
type FactStore interface {
	// Insert deduplicates by fingerprint, merging provenance. On merge,
	// confidence becomes max(existing, new) only when the incoming primary
	// source is not yet in the triple's provenance; otherwise it is
	// unchanged. Tier is never changed by Insert; promotion is a separate
	// call. Returns the fingerprint.
	Insert(ctx context.Context, triple *types.Triple) (string, error)

	// Query returns triples matching filter, ordered by (tier desc,
	// confidence desc, creation asc). The ordering is deterministic.
	Query(ctx context.Context, filter QueryFilter) ([]*types.Triple, error)

	// Get returns the triple for fingerprint, or ok=false if absent.
	Get(ctx context.Context, fingerprint string) (triple *types.Triple, ok bool, err error)

	// RecordConflict creates a Conflict record for the fingerprint pair.
	// Idempotent: calling twice with the same (a,b) pair (in either order)
	// returns the existing conflict's ID.
	RecordConflict(ctx context.Context, aFP, bFP string, kind types.ConflictKind) (string, error)

	// Supersede appends an invalidation link from oldFP to newFP. Query with
	// default filters excludes superseded triples afterward.
	Supersede(ctx context.Context, oldFP, newFP string) error

	// Promote sets a triple's tier. Fails with errs.Fatal if the requested
	// tier is lower than the triple's current tier; tiers never decrease.
	Promote(ctx context.Context, fingerprint string, tier types.Tier) error

	// Conflicts returns every conflict touching any of the given
	// fingerprints, or all conflicts if fingerprints is empty.
	Conflicts(ctx context.Context, fingerprints ...string) ([]*types.Conflict, error)

	// ResolveConflict updates a conflict's status and resolution note.
	ResolveConflict(ctx context.Context, conflictID string, status types.ConflictStatus, resolution string) error

	// StatsByTier returns counts per tier plus the unresolved-conflict count.
	StatsByTier(ctx context.Context) (Stats, error)

	// Close releases any underlying resources (db handles, connections).
	// Backends with nothing to release (MemoryStore) implement it as a
	// no-op.
	Close() error
}
