package factstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sovereign-research/orchestrator/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS triples (
    fingerprint TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    unit TEXT NOT NULL DEFAULT '',
    primary_source TEXT NOT NULL,
    provenance TEXT NOT NULL,
    confidence REAL NOT NULL,
    tier INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    invalidated_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_triples_sp ON triples(subject, predicate);
CREATE INDEX IF NOT EXISTS idx_triples_tier ON triples(tier);

CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    a_fingerprint TEXT NOT NULL,
    b_fingerprint TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    resolution TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
`

// SQLiteStore is a FactStore backend persisting triples and conflicts to
// SQLite through an in-memory write-through cache. Reads are always served
// from the cache; every mutation is persisted before the call returns, so a
// crash never loses an acknowledged write.
type SQLiteStore struct {
	cache *MemoryStore
	db    *sql.DB

	stmtUpsertTriple   *sql.Stmt
	stmtUpsertConflict *sql.Stmt
}

// NewSQLiteStore opens (or creates) a SQLite database at path and loads its
// contents into the in-memory cache.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("factstore: sqlite path cannot be empty")
	}

	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("factstore: open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("factstore: ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("factstore: initialize schema: %w", err)
	}

	s := &SQLiteStore{cache: NewMemoryStore(), db: db}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("factstore: prepare statements: %w", err)
	}
	if err := s.warmCache(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("factstore: warm cache: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.stmtUpsertTriple, err = s.db.Prepare(`
		INSERT INTO triples (
			fingerprint, subject, predicate, object, unit, primary_source,
			provenance, confidence, tier, created_at, invalidated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			provenance=excluded.provenance,
			confidence=excluded.confidence,
			tier=excluded.tier,
			invalidated_by=excluded.invalidated_by
	`)
	if err != nil {
		return err
	}
	s.stmtUpsertConflict, err = s.db.Prepare(`
		INSERT INTO conflicts (id, a_fingerprint, b_fingerprint, kind, status, resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			resolution=excluded.resolution
	`)
	return err
}

func (s *SQLiteStore) warmCache() error {
	rows, err := s.db.Query(`SELECT fingerprint, subject, predicate, object, unit,
		primary_source, provenance, confidence, tier, created_at, invalidated_by FROM triples`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t types.Triple
		var provenance string
		var tier int
		var createdAt int64
		if err := rows.Scan(&t.Fingerprint, &t.Subject, &t.Predicate, &t.Object, &t.Unit,
			&t.PrimarySource, &provenance, &t.Confidence, &tier, &createdAt, &t.InvalidatedBy); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(provenance), &t.Provenance); err != nil {
			return err
		}
		t.Tier = types.Tier(tier)
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		triple := t
		s.cache.triples[triple.Fingerprint] = &triple
	}
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := s.db.Query(`SELECT id, a_fingerprint, b_fingerprint, kind, status, resolution, created_at FROM conflicts`)
	if err != nil {
		return err
	}
	defer crows.Close()
	for crows.Next() {
		var c types.Conflict
		var kind, status string
		var createdAt int64
		if err := crows.Scan(&c.ID, &c.A, &c.B, &kind, &status, &c.Resolution, &createdAt); err != nil {
			return err
		}
		c.Kind = types.ConflictKind(kind)
		c.Status = types.ConflictStatus(status)
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		conflict := c
		s.cache.conflicts[conflict.ID] = &conflict
		s.cache.conflictByPair[pairKey(conflict.A, conflict.B)] = conflict.ID
		s.cache.conflictCounter++
	}
	return crows.Err()
}

func (s *SQLiteStore) persistTriple(ctx context.Context, fp string) error {
	t, ok, err := s.cache.Get(ctx, fp)
	if err != nil || !ok {
		return err
	}
	provenance, err := json.Marshal(t.Provenance)
	if err != nil {
		return err
	}
	_, err = s.stmtUpsertTriple.ExecContext(ctx,
		t.Fingerprint, t.Subject, t.Predicate, t.Object, t.Unit, t.PrimarySource,
		string(provenance), t.Confidence, int(t.Tier), t.CreatedAt.UnixMilli(), t.InvalidatedBy)
	return err
}

func (s *SQLiteStore) persistConflict(ctx context.Context, id string) error {
	s.cache.mu.RLock()
	c, ok := s.cache.conflicts[id]
	s.cache.mu.RUnlock()
	if !ok {
		return nil
	}
	_, err := s.stmtUpsertConflict.ExecContext(ctx,
		c.ID, c.A, c.B, string(c.Kind), string(c.Status), c.Resolution, c.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, triple *types.Triple) (string, error) {
	fp, err := s.cache.Insert(ctx, triple)
	if err != nil {
		return "", err
	}
	return fp, s.persistTriple(ctx, fp)
}

func (s *SQLiteStore) Query(ctx context.Context, filter QueryFilter) ([]*types.Triple, error) {
	return s.cache.Query(ctx, filter)
}

func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*types.Triple, bool, error) {
	return s.cache.Get(ctx, fingerprint)
}

func (s *SQLiteStore) RecordConflict(ctx context.Context, aFP, bFP string, kind types.ConflictKind) (string, error) {
	id, err := s.cache.RecordConflict(ctx, aFP, bFP, kind)
	if err != nil {
		return "", err
	}
	return id, s.persistConflict(ctx, id)
}

func (s *SQLiteStore) Supersede(ctx context.Context, oldFP, newFP string) error {
	if err := s.cache.Supersede(ctx, oldFP, newFP); err != nil {
		return err
	}
	return s.persistTriple(ctx, oldFP)
}

func (s *SQLiteStore) Promote(ctx context.Context, fingerprint string, tier types.Tier) error {
	if err := s.cache.Promote(ctx, fingerprint, tier); err != nil {
		return err
	}
	return s.persistTriple(ctx, fingerprint)
}

func (s *SQLiteStore) Conflicts(ctx context.Context, fingerprints ...string) ([]*types.Conflict, error) {
	return s.cache.Conflicts(ctx, fingerprints...)
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, conflictID string, status types.ConflictStatus, resolution string) error {
	if err := s.cache.ResolveConflict(ctx, conflictID, status, resolution); err != nil {
		return err
	}
	return s.persistConflict(ctx, conflictID)
}

func (s *SQLiteStore) StatsByTier(ctx context.Context) (Stats, error) {
	return s.cache.StatsByTier(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.stmtUpsertTriple != nil {
		_ = s.stmtUpsertTriple.Close()
	}
	if s.stmtUpsertConflict != nil {
		_ = s.stmtUpsertConflict.Close()
	}
	return s.db.Close()
}

var _ FactStore = (*SQLiteStore)(nil)
