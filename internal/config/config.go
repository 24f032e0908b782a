// Package config provides session-level configuration for the reasoning and
// knowledge kernel.
//
// Configuration can be loaded from multiple sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. Configuration file (JSON)
//  3. Default values (lowest priority)
//
// Every MCTS hyperparameter lives here so that experiments with alternative
// reward/weight tuples stay config, never hard-coded branches in the engine
// itself.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// RewardWeights are the weights combining the three simulation-reward
// components in MCTSEngine. Must sum to 1.0.
type RewardWeights struct {
	VariantScore    float64 `json:"variant_score"`
	AxiomConclusion float64 `json:"axiom_conclusion"`
	FactQuality     float64 `json:"fact_quality"`
}

// Sum returns the sum of the three weights.
func (w RewardWeights) Sum() float64 {
	return w.VariantScore + w.AxiomConclusion + w.FactQuality
}

// PRMWeights are the weights combining the three ProcessRewardModel
// dimensions. Must sum to 1.0.
type PRMWeights struct {
	Axiom    float64 `json:"axiom"`
	Logic    float64 `json:"logic"`
	Evidence float64 `json:"evidence"`
}

// Sum returns the sum of the three weights.
func (w PRMWeights) Sum() float64 {
	return w.Axiom + w.Logic + w.Evidence
}

// UncertaintyWeights weight the four components of node/graph uncertainty.
// Deliberately unnormalized: they may sum to more than 1.0, and scaling
// every weight by k scales the resulting uncertainty by k.
type UncertaintyWeights struct {
	Conflicts         float64 `json:"conflicts"`
	ConfidenceVariance float64 `json:"confidence_variance"`
	Coverage          float64 `json:"coverage"`
	AxiomCompliance   float64 `json:"axiom_compliance"`
}

// SessionConfig holds every session tunable, plus the ambient
// server/storage/logging settings this kernel needs to run standalone.
type SessionConfig struct {
	// Tree shape
	MaxDepth        int `json:"max_depth"`
	BranchingFactor int `json:"branching_factor"`
	VariantCount    int `json:"variant_count"`

	// MCTS
	ExplorationConstant float64 `json:"exploration_constant"`
	CoverageWeight      float64 `json:"coverage_weight"`
	PriorWeight         float64 `json:"prior_weight"`
	RewardWeights       RewardWeights `json:"reward_weights"`
	ConvergenceThreshold float64      `json:"convergence_threshold"`
	ConvergenceStreak    int          `json:"convergence_streak"`
	IterationBudget      int          `json:"mcts_iteration_budget"`
	TimeBudgetMS         int          `json:"mcts_time_budget_ms"`

	// PRM / Judge
	PRMWeights       PRMWeights `json:"prm_weights"`
	JudgeTemperature float64    `json:"judge_temperature"`

	// CoT generation
	VariantTemperatures []float64 `json:"variant_temperatures"`

	// Uncertainty evaluator
	EnableUncertaintyEvaluator bool               `json:"enable_uncertainty_evaluator"`
	UncertaintyWeights         UncertaintyWeights `json:"uncertainty_weights"`

	// Tier promotion
	TierConsensusThreshold float64 `json:"tier_thresholds_consensus"`

	// Ambient settings
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig identifies this kernel instance for logs and traces.
type ServerConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// StorageConfig selects and tunes the FactStore backend.
type StorageConfig struct {
	// Type selects the FactStore backend: "memory", "badger", "sqlite", or
	// "neo4j".
	Type         string `json:"type"`
	Path         string `json:"path"`
	FallbackType string `json:"fallback_type"`

	// Neo4j connection settings, used only when Type is "neo4j".
	Neo4jURI      string `json:"neo4j_uri,omitempty"`
	Neo4jUsername string `json:"neo4j_username,omitempty"`
	Neo4jPassword string `json:"neo4j_password,omitempty"`
	Neo4jDatabase string `json:"neo4j_database,omitempty"`
}

// LoggingConfig controls the ambient structured-logging stack (log/slog).
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Default returns the documented default for every option.
func Default() *SessionConfig {
	return &SessionConfig{
		MaxDepth:        4,
		BranchingFactor: 3,
		VariantCount:    3,

		ExplorationConstant: math.Sqrt2,
		CoverageWeight:      0.25,
		PriorWeight:         0.15,
		RewardWeights: RewardWeights{
			VariantScore:    0.5,
			AxiomConclusion: 0.3,
			FactQuality:     0.2,
		},
		ConvergenceThreshold: 0.83,
		ConvergenceStreak:    3,
		IterationBudget:      200,
		TimeBudgetMS:         0,

		PRMWeights: PRMWeights{
			Axiom:    0.4,
			Logic:    0.4,
			Evidence: 0.2,
		},
		JudgeTemperature: 0.1,

		VariantTemperatures: []float64{0.7, 0.8, 0.9},

		EnableUncertaintyEvaluator: true,
		UncertaintyWeights: UncertaintyWeights{
			Conflicts:          0.3,
			ConfidenceVariance: 0.4,
			Coverage:           0.2,
			AxiomCompliance:    0.3,
		},

		TierConsensusThreshold: 0.6,

		Server: ServerConfig{
			Name:        "sovereign-research-orchestrator",
			Version:     "1.0.0",
			Environment: "development",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load applies environment overrides to Default() and validates the result.
func Load() (*SessionConfig, error) {
	cfg := Default()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads a JSON configuration file over the defaults, then
// applies environment overrides and validates.
func LoadFromFile(path string) (*SessionConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromEnv overlays SRO_<SECTION>_<KEY> environment variables.
func (c *SessionConfig) loadFromEnv() error {
	if v := os.Getenv("SRO_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxDepth = n
		}
	}
	if v := os.Getenv("SRO_BRANCHING_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BranchingFactor = n
		}
	}
	if v := os.Getenv("SRO_VARIANT_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VariantCount = n
		}
	}
	if v := os.Getenv("SRO_MCTS_ITERATION_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.IterationBudget = n
		}
	}
	if v := os.Getenv("SRO_MCTS_TIME_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TimeBudgetMS = n
		}
	}
	if v := os.Getenv("SRO_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SRO_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SRO_LOGGING_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SRO_LOGGING_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("SRO_SERVER_ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	return nil
}

const weightSumTolerance = 1e-9

// Validate enforces the invariants that must hold before a session may
// start: weight tuples summing to 1.0, and storage/logging enums. The
// session refuses to start rather than silently renormalizing.
func (c *SessionConfig) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be >= 1")
	}
	if c.BranchingFactor < 1 {
		return fmt.Errorf("branching_factor must be >= 1")
	}
	if c.VariantCount < 1 {
		return fmt.Errorf("variant_count must be >= 1")
	}
	if len(c.VariantTemperatures) != c.VariantCount {
		return fmt.Errorf("variant_temperatures must have length variant_count (%d), got %d", c.VariantCount, len(c.VariantTemperatures))
	}
	if c.ExplorationConstant <= 0 {
		return fmt.Errorf("exploration_constant must be > 0")
	}
	if c.CoverageWeight < 0 || c.PriorWeight < 0 {
		return fmt.Errorf("coverage_weight and prior_weight must be >= 0")
	}
	if math.Abs(c.RewardWeights.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("reward_weights must sum to 1.0 +/- 1e-9, got %v", c.RewardWeights.Sum())
	}
	if math.Abs(c.PRMWeights.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("prm_weights must sum to 1.0 +/- 1e-9, got %v", c.PRMWeights.Sum())
	}
	if c.ConvergenceThreshold < 0 || c.ConvergenceThreshold > 1 {
		return fmt.Errorf("convergence_threshold must be in [0,1]")
	}
	if c.ConvergenceStreak < 1 {
		return fmt.Errorf("convergence_streak must be >= 1")
	}
	if c.IterationBudget < 1 {
		return fmt.Errorf("mcts_iteration_budget must be >= 1")
	}
	if c.TimeBudgetMS < 0 {
		return fmt.Errorf("mcts_time_budget_ms must be >= 0")
	}
	if c.JudgeTemperature < 0 {
		return fmt.Errorf("judge_temperature must be >= 0")
	}
	if c.TierConsensusThreshold < 0 || c.TierConsensusThreshold > 1 {
		return fmt.Errorf("tier_thresholds_consensus must be in [0,1]")
	}

	switch c.Storage.Type {
	case "memory", "badger", "sqlite", "neo4j":
	default:
		return fmt.Errorf("storage.type must be one of: memory, badger, sqlite, neo4j")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}

	return nil
}

// ToJSON serializes the configuration to indented JSON.
func (c *SessionConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// SaveToFile persists the configuration as JSON.
func (c *SessionConfig) SaveToFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
