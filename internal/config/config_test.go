package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.MaxDepth != 4 || cfg.BranchingFactor != 3 || cfg.VariantCount != 3 {
		t.Fatalf("unexpected tree-shape defaults: %+v", cfg)
	}
	if math.Abs(cfg.ExplorationConstant-math.Sqrt2) > 1e-9 {
		t.Fatalf("expected exploration constant sqrt(2), got %v", cfg.ExplorationConstant)
	}
}

func TestRewardWeightInvariant(t *testing.T) {
	cfg := Default()
	cfg.RewardWeights.FactQuality = 0.25 // breaks the 1.0 sum
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for reward weights not summing to 1.0")
	}
}

func TestPRMWeightInvariant(t *testing.T) {
	cfg := Default()
	cfg.PRMWeights.Evidence = 0.3 // breaks the 1.0 sum
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for prm weights not summing to 1.0")
	}
}

func TestVariantTemperaturesLengthMustMatchCount(t *testing.T) {
	cfg := Default()
	cfg.VariantCount = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when variant_temperatures length mismatches variant_count")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SRO_MAX_DEPTH", "6")
	os.Setenv("SRO_STORAGE_TYPE", "sqlite")
	defer os.Unsetenv("SRO_MAX_DEPTH")
	defer os.Unsetenv("SRO_STORAGE_TYPE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxDepth != 6 {
		t.Fatalf("expected env override to set max_depth=6, got %d", cfg.MaxDepth)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Fatalf("expected env override to set storage type, got %s", cfg.Storage.Type)
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sro.json")

	cfg := Default()
	cfg.Server.Name = "test-session"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Server.Name != "test-session" {
		t.Fatalf("expected loaded server name 'test-session', got %q", loaded.Server.Name)
	}
}

func TestInvalidStorageType(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported storage type")
	}
}
