package factstore

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sovereign-research/orchestrator/internal/types"
)

const (
	badgerTriplePrefix   = "triple:"
	badgerConflictPrefix = "conflict:"
)

// BadgerStore is a FactStore backend durable across process restarts,
// structured as a write-through cache over badger.DB. The fingerprint-keyed
// triple layout maps directly onto badger's content-addressed keys.
type BadgerStore struct {
	cache *MemoryStore
	db    *badger.DB
}

// NewBadgerStore opens (or creates) a badger database at path and replays
// its contents into an in-memory cache.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("factstore: open badger at %s: %w", path, err)
	}

	s := &BadgerStore{cache: NewMemoryStore(), db: db}
	if err := s.replay(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("factstore: replay badger contents: %w", err)
	}
	return s, nil
}

func (s *BadgerStore) replay() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(val []byte) error {
				switch {
				case len(key) > len(badgerTriplePrefix) && key[:len(badgerTriplePrefix)] == badgerTriplePrefix:
					var t types.Triple
					if err := json.Unmarshal(val, &t); err != nil {
						return err
					}
					s.cache.triples[t.Fingerprint] = &t
				case len(key) > len(badgerConflictPrefix) && key[:len(badgerConflictPrefix)] == badgerConflictPrefix:
					var c types.Conflict
					if err := json.Unmarshal(val, &c); err != nil {
						return err
					}
					s.cache.conflicts[c.ID] = &c
					s.cache.conflictByPair[pairKey(c.A, c.B)] = c.ID
					s.cache.conflictCounter++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) persistTriple(fp string) error {
	t, ok, err := s.cache.Get(context.Background(), fp)
	if err != nil || !ok {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerTriplePrefix+fp), data)
	})
}

func (s *BadgerStore) persistConflict(id string) error {
	s.cache.mu.RLock()
	c, ok := s.cache.conflicts[id]
	s.cache.mu.RUnlock()
	if !ok {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerConflictPrefix+id), data)
	})
}

func (s *BadgerStore) Insert(ctx context.Context, triple *types.Triple) (string, error) {
	fp, err := s.cache.Insert(ctx, triple)
	if err != nil {
		return "", err
	}
	return fp, s.persistTriple(fp)
}

func (s *BadgerStore) Query(ctx context.Context, filter QueryFilter) ([]*types.Triple, error) {
	return s.cache.Query(ctx, filter)
}

func (s *BadgerStore) Get(ctx context.Context, fingerprint string) (*types.Triple, bool, error) {
	return s.cache.Get(ctx, fingerprint)
}

func (s *BadgerStore) RecordConflict(ctx context.Context, aFP, bFP string, kind types.ConflictKind) (string, error) {
	id, err := s.cache.RecordConflict(ctx, aFP, bFP, kind)
	if err != nil {
		return "", err
	}
	return id, s.persistConflict(id)
}

func (s *BadgerStore) Supersede(ctx context.Context, oldFP, newFP string) error {
	if err := s.cache.Supersede(ctx, oldFP, newFP); err != nil {
		return err
	}
	return s.persistTriple(oldFP)
}

func (s *BadgerStore) Promote(ctx context.Context, fingerprint string, tier types.Tier) error {
	if err := s.cache.Promote(ctx, fingerprint, tier); err != nil {
		return err
	}
	return s.persistTriple(fingerprint)
}

func (s *BadgerStore) Conflicts(ctx context.Context, fingerprints ...string) ([]*types.Conflict, error) {
	return s.cache.Conflicts(ctx, fingerprints...)
}

func (s *BadgerStore) ResolveConflict(ctx context.Context, conflictID string, status types.ConflictStatus, resolution string) error {
	if err := s.cache.ResolveConflict(ctx, conflictID, status, resolution); err != nil {
		return err
	}
	return s.persistConflict(conflictID)
}

func (s *BadgerStore) StatsByTier(ctx context.Context) (Stats, error) {
	return s.cache.StatsByTier(ctx)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ FactStore = (*BadgerStore)(nil)
