package session

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/tot"
	"github.com/sovereign-research/orchestrator/internal/types"
)

// Replay reconstructs the reasoning tree and fact store from an event log
// and the initial session config. No capability is consulted: every
// generation, promotion, and reward outcome was captured at record time, so
// replay is pure bookkeeping and bit-identical to the original run.
func Replay(cfg *config.SessionConfig, events []types.Event) (*tot.Manager, *factstore.MemoryStore, error) {
	store := factstore.NewMemoryStore()
	manager := tot.NewManager(cfg, nil, store, nil, nil, nil)

	ordered := make([]types.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].LogicalClock < ordered[j].LogicalClock })

	for _, ev := range ordered {
		if err := applyEvent(manager, store, ev); err != nil {
			return nil, nil, fmt.Errorf("session: replay event %d (%s): %w", ev.LogicalClock, ev.Kind, err)
		}
	}
	return manager, store, nil
}

func applyEvent(manager *tot.Manager, store *factstore.MemoryStore, ev types.Event) error {
	switch ev.Kind {
	case types.TransitionNodeCreated:
		var p struct {
			ParentID string `json:"parent_id"`
			Question string `json:"question"`
			Depth    int    `json:"depth"`
			Label    string `json:"label"`
		}
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		manager.RestoreNode(&types.Node{
			ID:        ev.NodeID,
			ParentID:  p.ParentID,
			Question:  p.Question,
			Depth:     p.Depth,
			Status:    types.NodeCreated,
			CreatedAt: ev.Timestamp,
			UpdatedAt: ev.Timestamp,
		}, p.Label)

	case types.TransitionExpandStart:
		manager.MutateNode(ev.NodeID, func(n *types.Node) {
			n.Status = types.NodeExpanding
			n.UpdatedAt = ev.Timestamp
		})

	case types.TransitionFactsIngested:
		var p struct {
			Triples   []*types.Triple   `json:"triples"`
			Conflicts []*types.Conflict `json:"conflicts"`
		}
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		for _, t := range p.Triples {
			store.RestoreTriple(t)
		}
		for _, c := range p.Conflicts {
			store.RestoreConflict(c)
		}

	case types.TransitionExpandComplete:
		var p struct {
			SelectedVariant  string           `json:"selected_variant"`
			FactFingerprints []string         `json:"fact_fingerprints"`
			AxiomAlignment   float64          `json:"axiom_alignment"`
			Variants         []*types.Variant `json:"variants"`
		}
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		manager.MutateNode(ev.NodeID, func(n *types.Node) {
			n.Status = types.NodeExpanded
			n.SelectedVariant = p.SelectedVariant
			n.FactFingerprints = p.FactFingerprints
			n.AxiomAlignment = p.AxiomAlignment
			n.Variants = p.Variants
			n.UpdatedAt = ev.Timestamp
		})

	case types.TransitionExpandRollback:
		manager.MutateNode(ev.NodeID, func(n *types.Node) {
			n.Status = types.NodeCreated
			n.Variants = nil
			n.SelectedVariant = ""
			n.FactFingerprints = nil
			n.UpdatedAt = ev.Timestamp
		})

	case types.TransitionPruned:
		manager.MutateNode(ev.NodeID, func(n *types.Node) {
			n.Status = types.NodePruned
			if n.SelectedVariant != "" {
				for _, v := range n.Variants {
					if v.ID == n.SelectedVariant {
						n.Variants = []*types.Variant{v}
						break
					}
				}
			} else {
				n.Variants = nil
			}
			n.UpdatedAt = ev.Timestamp
		})

	case types.TransitionTerminal:
		manager.MutateNode(ev.NodeID, func(n *types.Node) {
			n.Status = types.NodeTerminal
			n.UpdatedAt = ev.Timestamp
		})

	case types.TransitionBackprop:
		var p struct {
			Path   []string `json:"path"`
			Reward float64  `json:"reward"`
		}
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		for _, nodeID := range p.Path {
			manager.ApplyReward(nodeID, p.Reward)
		}

	case types.TransitionSessionStatus, types.TransitionError:
		// Lifecycle markers; nothing to rebuild.
	}
	return nil
}

// decodePayload normalizes a payload regardless of whether it holds live Go
// values (same-process replay) or generic maps (loaded from JSONL) by
// round-tripping through JSON.
func decodePayload(payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
