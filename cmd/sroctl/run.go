package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/session"
	"github.com/sovereign-research/orchestrator/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		question   string
		axiomsPath string
		modelSpec  string
		logOut     string
		trace      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one research session and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if trace {
				shutdown, err := telemetry.InitTracer()
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Warn("tracer shutdown failed", "error", err)
					}
				}()
			}
			metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

			library, err := loadAxioms(axiomsPath)
			if err != nil {
				return err
			}

			store, err := factstore.NewFromConfig(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			model, err := buildModel(modelSpec)
			if err != nil {
				return err
			}

			s, err := session.New(cfg, library, &telemetry.TracedStore{Inner: store, Metrics: metrics}, session.Options{
				Model:   &telemetry.TracedModel{Inner: model, Metrics: metrics},
				Metrics: metrics,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			report, err := s.Run(cmd.Context(), question)
			if err != nil {
				return err
			}

			printf("session %s: %s after %d iterations", s.ID, report.Status, report.Iterations)
			printf("best reward %.3f, progress %.0f%%", report.BestReward, report.Progress*100)
			printf("facts: %d gold, %d silver, %d bronze, %d open conflicts",
				report.Stats.Gold, report.Stats.Silver, report.Stats.Bronze, report.Stats.Conflicts)
			for _, action := range report.InfoActions {
				printf("proposed: %s(%s)", action.Kind, action.Target)
			}

			if logOut != "" {
				if err := s.EventLog().SaveToFile(logOut); err != nil {
					return err
				}
				printf("event log written to %s (%d events)", logOut, s.EventLog().Len())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "research question to explore")
	cmd.Flags().StringVar(&axiomsPath, "axioms", "", "path to a JSON axiom library (empty runs without axioms)")
	cmd.Flags().StringVar(&modelSpec, "model", "demo", `language model: "demo" or "ollama:<model>"`)
	cmd.Flags().StringVar(&logOut, "log-out", "", "write the event log as JSONL to this path")
	cmd.Flags().BoolVar(&trace, "trace", false, "emit OpenTelemetry spans to stdout")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func loadAxioms(path string) (*axiom.Library, error) {
	if path == "" {
		return axiom.NewLibrary(nil)
	}
	return axiom.LoadFromFile(path)
}

// buildModel resolves the --model flag: the deterministic demo responder, or
// a local Ollama model through langchaingo.
func buildModel(spec string) (capability.LanguageModel, error) {
	switch {
	case spec == "demo":
		return demoModel(), nil
	case strings.HasPrefix(spec, "ollama:"):
		llm, err := ollama.New(ollama.WithModel(strings.TrimPrefix(spec, "ollama:")))
		if err != nil {
			return nil, fmt.Errorf("connect ollama: %w", err)
		}
		return capability.NewLangchainModel(llm), nil
	default:
		return nil, fmt.Errorf("unknown model spec %q", spec)
	}
}

// demoModel produces structured reasoning deterministically so the binary
// demonstrates the full pipeline without an inference backend.
func demoModel() *capability.ScriptedModel {
	m := capability.NewScriptedModel()
	m.Responder = func(req capability.CompletionRequest) (string, error) {
		return `STEP: Research from published field data shows the primary option delivers 4500 kWh per year, therefore it covers a typical household load.
FACT: PrimaryOption | AnnualProduction | 4500 | kWh/yr
STEP: At a grid price of 0.42 EUR per kWh the offset is worth about 1890 EUR per year.
FACT: Grid | Price | 0.42 | EUR/kWh
CONCLUSION: The primary option is economically viable on current grid prices.`, nil
	}
	return m
}
