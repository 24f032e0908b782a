package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sovereign-research/orchestrator/internal/session"
	"github.com/sovereign-research/orchestrator/internal/types"
)

func newReplayCmd() *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a persisted event log and report the reconstructed state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			newLogger(cfg)

			events, err := session.LoadFromFile(logPath)
			if err != nil {
				return err
			}

			manager, store, err := session.Replay(cfg, events)
			if err != nil {
				return err
			}

			counts := map[types.NodeStatus]int{}
			for _, n := range manager.AllNodes() {
				counts[n.Status]++
			}
			printf("replayed %d events into %d nodes", len(events), manager.NodeCount())
			printf("nodes: %d expanded, %d terminal, %d pruned, %d created",
				counts[types.NodeExpanded], counts[types.NodeTerminal],
				counts[types.NodePruned], counts[types.NodeCreated])

			stats, err := store.StatsByTier(context.Background())
			if err != nil {
				return err
			}
			printf("facts: %d gold, %d silver, %d bronze, %d open conflicts",
				stats.Gold, stats.Silver, stats.Bronze, stats.Conflicts)

			if root, ok := manager.Node(manager.RootID()); ok {
				printf("root %q: %d visits, coverage %.0f%%", root.Question, root.Visits, root.Coverage*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "path to a JSONL event log")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}
