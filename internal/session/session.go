package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/cot"
	"github.com/sovereign-research/orchestrator/internal/errs"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/mcts"
	"github.com/sovereign-research/orchestrator/internal/prm"
	"github.com/sovereign-research/orchestrator/internal/telemetry"
	"github.com/sovereign-research/orchestrator/internal/tot"
	"github.com/sovereign-research/orchestrator/internal/types"
	"github.com/sovereign-research/orchestrator/internal/uncertainty"
	"github.com/sovereign-research/orchestrator/internal/verifier"
)

// uncertaintyActionThreshold gates InfoAction proposals in the final report:
// only nodes at least this uncertain nominate collaborator work.
const uncertaintyActionThreshold = 0.5

// Options carries the capabilities a session consumes. Model is required;
// SourceAdapter and Consensus are optional (without either, the Gold
// consensus leg never fires).
type Options struct {
	Model         capability.LanguageModel
	SourceAdapter capability.SourceAdapter
	Consensus     verifier.ConsensusScorer
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
}

// Report is the session outcome surfaced to the collaborator layer.
type Report struct {
	Status      types.SessionStatus
	Iterations  int
	BestPath    []string
	BestReward  float64
	Progress    float64
	Stats       factstore.Stats
	InfoActions []types.InfoAction
}

// Session owns one research question's reasoning tree and a reference to a
// (possibly shared) FactStore. Axioms are an immutable snapshot for the
// session's lifetime.
type Session struct {
	ID string

	cfg     *config.SessionConfig
	library *axiom.Library
	store   factstore.FactStore

	judge     *axiom.Judge
	manager   *tot.Manager
	engine    *mcts.Engine
	evaluator *uncertainty.Evaluator
	log       *EventLog
	logger    *slog.Logger

	status types.SessionStatus
}

// New wires a session. It refuses to start on any invalid configuration —
// including weight tuples that do not sum to 1.0.
func New(cfg *config.SessionConfig, library *axiom.Library, store factstore.FactStore, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "session config rejected", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	judge := axiom.NewJudge(library, opts.Model, cfg.JudgeTemperature, logger)

	scorer, err := prm.New(judge, cfg.PRMWeights)
	if err != nil {
		return nil, err
	}
	generator := cot.NewGenerator(opts.Model, scorer, logger)

	consensus := opts.Consensus
	if consensus == nil && opts.SourceAdapter != nil {
		consensus = verifier.NewChromemConsensus(opts.SourceAdapter)
	}
	promoter := verifier.NewPromoter(store, judge, consensus, cfg.TierConsensusThreshold, logger)

	log := NewEventLog()
	manager := tot.NewManager(cfg, generator, store, promoter, log, logger)

	engine := mcts.New(cfg, manager, judge, logger)
	engine.Metrics = opts.Metrics

	s := &Session{
		ID:      "session-" + uuid.NewString(),
		cfg:     cfg,
		library: library,
		store:   store,
		judge:   judge,
		manager: manager,
		engine:  engine,
		log:     log,
		logger:  logger,
		status:  types.SessionRunning,
	}
	if cfg.EnableUncertaintyEvaluator {
		s.evaluator = uncertainty.New(store, cfg.UncertaintyWeights)
	}
	return s, nil
}

// Run drives the MCTS loop on the question until completion, exhaustion, or
// a fatal invariant violation.
func (s *Session) Run(ctx context.Context, question string) (*Report, error) {
	s.log.Record(types.TransitionSessionStatus, "", map[string]any{
		"status":   string(types.SessionRunning),
		"question": question,
	})

	if _, err := s.manager.CreateRoot(question); err != nil {
		return s.fail(err)
	}

	result, err := s.engine.Run(ctx)
	if err != nil {
		return s.fail(err)
	}

	s.status = result.Status
	s.log.Record(types.TransitionSessionStatus, "", map[string]any{"status": string(s.status)})

	report := &Report{
		Status:     result.Status,
		Iterations: result.Iterations,
		BestPath:   result.BestPath,
		BestReward: result.BestReward,
		Progress:   s.manager.Progress(),
	}
	if stats, statsErr := s.store.StatsByTier(ctx); statsErr == nil {
		report.Stats = stats
	}

	if s.evaluator != nil {
		report.InfoActions = s.proposeActions(ctx)
	}
	return report, nil
}

// proposeActions gathers InfoAction nominations across the tree. Failures
// here degrade the report, never the session.
func (s *Session) proposeActions(ctx context.Context) []types.InfoAction {
	var actions []types.InfoAction
	for _, node := range s.manager.AllNodes() {
		proposed, err := s.evaluator.Propose(ctx, node, uncertaintyActionThreshold)
		if err != nil {
			s.logger.Warn("uncertainty proposal failed", "node", node.ID, "error", err)
			continue
		}
		actions = append(actions, proposed...)
	}
	return actions
}

func (s *Session) fail(err error) (*Report, error) {
	s.status = types.SessionFailed
	s.log.Record(types.TransitionError, "", map[string]any{"error": err.Error()})
	s.log.Record(types.TransitionSessionStatus, "", map[string]any{"status": string(types.SessionFailed)})
	return &Report{Status: types.SessionFailed}, err
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() types.SessionStatus { return s.status }

// EventLog exposes the session's transition record.
func (s *Session) EventLog() *EventLog { return s.log }

// Manager exposes the reasoning tree for inspection.
func (s *Session) Manager() *tot.Manager { return s.manager }
