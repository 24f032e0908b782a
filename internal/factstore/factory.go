package factstore

import (
	"fmt"

	"github.com/sovereign-research/orchestrator/internal/config"
)

// NewFromConfig builds the FactStore backend selected by cfg.Type, falling
// back to cfg.FallbackType when the primary backend fails to open.
func NewFromConfig(cfg config.StorageConfig) (FactStore, error) {
	store, err := build(cfg.Type, cfg)
	if err != nil && cfg.FallbackType != "" && cfg.FallbackType != cfg.Type {
		return build(cfg.FallbackType, cfg)
	}
	return store, err
}

func build(kind string, cfg config.StorageConfig) (FactStore, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "neo4j":
		return NewNeo4jStore(Neo4jConfig{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	default:
		return nil, fmt.Errorf("factstore: unknown storage type %q", kind)
	}
}
