package prm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-research/orchestrator/internal/axiom"
	"github.com/sovereign-research/orchestrator/internal/config"
	"github.com/sovereign-research/orchestrator/internal/types"
)

func emptyJudge(t *testing.T) *axiom.Judge {
	t.Helper()
	lib, err := axiom.NewLibrary(nil)
	require.NoError(t, err)
	return axiom.NewJudge(lib, nil, 0.1, nil)
}

func defaultModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(emptyJudge(t), config.Default().PRMWeights)
	require.NoError(t, err)
	return m
}

func TestNewRefusesBadWeightSum(t *testing.T) {
	_, err := New(emptyJudge(t), config.PRMWeights{Axiom: 0.5, Logic: 0.5, Evidence: 0.5})
	require.Error(t, err)
}

func TestWeakLanguageOnlyScoresZeroEvidence(t *testing.T) {
	m := defaultModel(t)
	step := &types.ReasoningStep{Text: "I think maybe renewable energy is probably good."}

	score, err := m.ScoreStep(context.Background(), step)
	require.NoError(t, err)

	assert.Equal(t, 0.0, score.EvidenceStrength)
	assert.LessOrEqual(t, score.Overall, 0.4)
}

func TestSourcedNumericStepScoresStrongEvidence(t *testing.T) {
	m := defaultModel(t)
	step := &types.ReasoningStep{Text: "Research from NREL shows a 40% emissions reduction."}

	score, err := m.ScoreStep(context.Background(), step)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score.EvidenceStrength, 0.7)
}

func TestLogicalConnectorWithPremiseRaisesConsistency(t *testing.T) {
	with := LogicalConsistency("The panel produces 4500 kWh per year, therefore the investment pays back early.")
	without := LogicalConsistency("The panel produces 4500 kWh per year.")
	assert.Greater(t, with, without)

	// A connector with no premise before it earns nothing.
	bare := LogicalConsistency("Therefore yes.")
	assert.Equal(t, without, bare)
}

func TestContradictionPenalizesConsistency(t *testing.T) {
	contradictory := LogicalConsistency("The inverter is reliable. Later tests found the inverter is not reliable.")
	clean := LogicalConsistency("The inverter is reliable across all tests.")
	assert.Less(t, contradictory, clean)
}

func TestAxiomComplianceDelegatesToJudge(t *testing.T) {
	lib, err := axiom.NewLibrary([]*types.Axiom{
		{
			ID:      "roi-under-10",
			Label:   "ROI < 10 years",
			Weight:  1.0,
			Penalty: 1.0,
			Validator: func(domain map[string]float64) (bool, bool) {
				v, ok := domain["roi_years"]
				if !ok {
					return false, false
				}
				return v < 10, true
			},
		},
	})
	require.NoError(t, err)
	judge := axiom.NewJudge(lib, nil, 0.1, nil)
	m, err := New(judge, config.Default().PRMWeights)
	require.NoError(t, err)

	supporting := &types.ReasoningStep{Text: "FACT: SolarKit | ROI | 7.9 years"}
	violating := &types.ReasoningStep{Text: "FACT: SolarKit | ROI | 14.5 years"}

	sup, err := m.ScoreStep(context.Background(), supporting)
	require.NoError(t, err)
	vio, err := m.ScoreStep(context.Background(), violating)
	require.NoError(t, err)

	assert.Equal(t, 1.0, sup.AxiomCompliance)
	assert.Equal(t, 0.0, vio.AxiomCompliance)
	assert.Greater(t, sup.Overall, vio.Overall)
}

func TestCompositeUsesConfiguredWeights(t *testing.T) {
	m, err := New(emptyJudge(t), config.PRMWeights{Axiom: 0.0, Logic: 0.0, Evidence: 1.0})
	require.NoError(t, err)

	step := &types.ReasoningStep{Text: "Research from NREL shows a 40% emissions reduction."}
	score, err := m.ScoreStep(context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, score.EvidenceStrength, score.Overall)
}
