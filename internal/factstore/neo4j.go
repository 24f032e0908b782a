package factstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sovereign-research/orchestrator/internal/types"
)

// Neo4jConfig holds the connection settings for the graph-database backend.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// Neo4jStore is a FactStore backend persisting SPO triples as native graph
// structure: subject and object entities become nodes, the predicate becomes
// a relationship carrying the triple's metadata. Like the other durable
// backends it keeps a full in-memory cache so that Query ordering and the
// store invariants stay in one engine (MemoryStore) regardless of backend.
type Neo4jStore struct {
	cache    *MemoryStore
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// NewNeo4jStore connects to Neo4j, verifies connectivity, and loads the
// existing triples and conflicts into the cache.
func NewNeo4jStore(cfg Neo4jConfig) (*Neo4jStore, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("factstore: create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("factstore: verify neo4j connectivity: %w", err)
	}

	s := &Neo4jStore{
		cache:    NewMemoryStore(),
		driver:   driver,
		database: cfg.Database,
		timeout:  cfg.Timeout,
	}
	if err := s.warmCache(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("factstore: warm cache from neo4j: %w", err)
	}
	return s, nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func (s *Neo4jStore) warmCache(ctx context.Context) error {
	sess := s.session(ctx)
	defer func() { _ = sess.Close(ctx) }()

	_, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Entity)-[r:FACT]->(b:Entity)
			RETURN r.fingerprint, a.name, r.predicate, b.name, r.unit,
			       r.primary_source, r.provenance, r.confidence, r.tier,
			       r.created_at_ms, r.invalidated_by
		`, nil)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			rec := result.Record().Values
			t := &types.Triple{
				Fingerprint:   asString(rec[0]),
				Subject:       asString(rec[1]),
				Predicate:     asString(rec[2]),
				Object:        asString(rec[3]),
				Unit:          asString(rec[4]),
				PrimarySource: asString(rec[5]),
				Provenance:    strings.Split(asString(rec[6]), "|"),
				Confidence:    asFloat(rec[7]),
				Tier:          types.Tier(asInt(rec[8])),
				CreatedAt:     time.UnixMilli(asInt(rec[9])).UTC(),
				InvalidatedBy: asString(rec[10]),
			}
			s.cache.triples[t.Fingerprint] = t
		}
		return nil, result.Err()
	})
	if err != nil {
		return err
	}

	_, err = sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (c:Conflict)
			RETURN c.id, c.a_fingerprint, c.b_fingerprint, c.kind, c.status, c.resolution, c.created_at_ms
		`, nil)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			rec := result.Record().Values
			c := &types.Conflict{
				ID:         asString(rec[0]),
				A:          asString(rec[1]),
				B:          asString(rec[2]),
				Kind:       types.ConflictKind(asString(rec[3])),
				Status:     types.ConflictStatus(asString(rec[4])),
				Resolution: asString(rec[5]),
				CreatedAt:  time.UnixMilli(asInt(rec[6])).UTC(),
			}
			s.cache.conflicts[c.ID] = c
			s.cache.conflictByPair[pairKey(c.A, c.B)] = c.ID
			s.cache.conflictCounter++
		}
		return nil, result.Err()
	})
	return err
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asInt(v any) int64 {
	n, _ := v.(int64)
	return n
}

func (s *Neo4jStore) persistTriple(ctx context.Context, fp string) error {
	t, ok, err := s.cache.Get(ctx, fp)
	if err != nil || !ok {
		return err
	}
	sess := s.session(ctx)
	defer func() { _ = sess.Close(ctx) }()

	_, err = sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (a:Entity {name: $subject})
			MERGE (b:Entity {name: $object})
			MERGE (a)-[r:FACT {fingerprint: $fingerprint}]->(b)
			SET r.predicate = $predicate,
			    r.unit = $unit,
			    r.primary_source = $primary_source,
			    r.provenance = $provenance,
			    r.confidence = $confidence,
			    r.tier = $tier,
			    r.created_at_ms = $created_at_ms,
			    r.invalidated_by = $invalidated_by
		`, map[string]any{
			"subject":        t.Subject,
			"object":         t.Object,
			"fingerprint":    t.Fingerprint,
			"predicate":      t.Predicate,
			"unit":           t.Unit,
			"primary_source": t.PrimarySource,
			"provenance":     strings.Join(t.Provenance, "|"),
			"confidence":     t.Confidence,
			"tier":           int64(t.Tier),
			"created_at_ms":  t.CreatedAt.UnixMilli(),
			"invalidated_by": t.InvalidatedBy,
		})
		return nil, err
	})
	return err
}

func (s *Neo4jStore) persistConflict(ctx context.Context, id string) error {
	s.cache.mu.RLock()
	c, ok := s.cache.conflicts[id]
	s.cache.mu.RUnlock()
	if !ok {
		return nil
	}
	sess := s.session(ctx)
	defer func() { _ = sess.Close(ctx) }()

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (c:Conflict {id: $id})
			SET c.a_fingerprint = $a,
			    c.b_fingerprint = $b,
			    c.kind = $kind,
			    c.status = $status,
			    c.resolution = $resolution,
			    c.created_at_ms = $created_at_ms
		`, map[string]any{
			"id":            c.ID,
			"a":             c.A,
			"b":             c.B,
			"kind":          string(c.Kind),
			"status":        string(c.Status),
			"resolution":    c.Resolution,
			"created_at_ms": c.CreatedAt.UnixMilli(),
		})
		return nil, err
	})
	return err
}

func (s *Neo4jStore) Insert(ctx context.Context, triple *types.Triple) (string, error) {
	fp, err := s.cache.Insert(ctx, triple)
	if err != nil {
		return "", err
	}
	return fp, s.persistTriple(ctx, fp)
}

func (s *Neo4jStore) Query(ctx context.Context, filter QueryFilter) ([]*types.Triple, error) {
	return s.cache.Query(ctx, filter)
}

func (s *Neo4jStore) Get(ctx context.Context, fingerprint string) (*types.Triple, bool, error) {
	return s.cache.Get(ctx, fingerprint)
}

func (s *Neo4jStore) RecordConflict(ctx context.Context, aFP, bFP string, kind types.ConflictKind) (string, error) {
	id, err := s.cache.RecordConflict(ctx, aFP, bFP, kind)
	if err != nil {
		return "", err
	}
	return id, s.persistConflict(ctx, id)
}

func (s *Neo4jStore) Supersede(ctx context.Context, oldFP, newFP string) error {
	if err := s.cache.Supersede(ctx, oldFP, newFP); err != nil {
		return err
	}
	return s.persistTriple(ctx, oldFP)
}

func (s *Neo4jStore) Promote(ctx context.Context, fingerprint string, tier types.Tier) error {
	if err := s.cache.Promote(ctx, fingerprint, tier); err != nil {
		return err
	}
	return s.persistTriple(ctx, fingerprint)
}

func (s *Neo4jStore) Conflicts(ctx context.Context, fingerprints ...string) ([]*types.Conflict, error) {
	return s.cache.Conflicts(ctx, fingerprints...)
}

func (s *Neo4jStore) ResolveConflict(ctx context.Context, conflictID string, status types.ConflictStatus, resolution string) error {
	if err := s.cache.ResolveConflict(ctx, conflictID, status, resolution); err != nil {
		return err
	}
	return s.persistConflict(ctx, conflictID)
}

func (s *Neo4jStore) StatsByTier(ctx context.Context) (Stats, error) {
	return s.cache.StatsByTier(ctx)
}

func (s *Neo4jStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.driver.Close(ctx)
}

var _ FactStore = (*Neo4jStore)(nil)
