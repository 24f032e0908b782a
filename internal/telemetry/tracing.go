package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sovereign-research/orchestrator/internal/capability"
	"github.com/sovereign-research/orchestrator/internal/factstore"
	"github.com/sovereign-research/orchestrator/internal/types"
)

const tracerName = "github.com/sovereign-research/orchestrator"

// InitTracer installs a stdout-exporting tracer provider and returns its
// shutdown function. Intended for the CLI; services would swap the exporter.
func InitTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TracedModel wraps a LanguageModel with a span per completion and the
// session metrics, covering the first suspension boundary.
type TracedModel struct {
	Inner   capability.LanguageModel
	Metrics *Metrics
}

// Complete implements capability.LanguageModel.
func (m *TracedModel) Complete(ctx context.Context, req capability.CompletionRequest) (capability.Completion, error) {
	ctx, span := tracer().Start(ctx, "LanguageModel.Complete",
		trace.WithAttributes(attribute.Float64("temperature", req.Temperature)))
	defer span.End()

	start := time.Now()
	completion, err := m.Inner.Complete(ctx, req)
	if m.Metrics != nil {
		m.Metrics.ModelCallsTotal.Inc()
		m.Metrics.ModelCallDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return completion, err
	}
	span.SetAttributes(attribute.Int("tokens_out", completion.TokensOut))
	return completion, nil
}

// TracedAdapter wraps a SourceAdapter with a span per fetch, covering the
// second suspension boundary.
type TracedAdapter struct {
	Inner capability.SourceAdapter
}

// Fetch implements capability.SourceAdapter.
func (a *TracedAdapter) Fetch(ctx context.Context, query string, sourceKind string) ([]capability.SourceDocument, error) {
	ctx, span := tracer().Start(ctx, "SourceAdapter.Fetch",
		trace.WithAttributes(attribute.String("source_kind", sourceKind)))
	defer span.End()

	docs, err := a.Inner.Fetch(ctx, query, sourceKind)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))
	return docs, nil
}

// TracedStore wraps a FactStore with spans on every persistence operation —
// the third suspension boundary — and feeds the promotion and conflict
// counters.
type TracedStore struct {
	Inner   factstore.FactStore
	Metrics *Metrics
}

func (s *TracedStore) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "FactStore."+op)
}

func (s *TracedStore) Insert(ctx context.Context, triple *types.Triple) (string, error) {
	ctx, span := s.span(ctx, "Insert")
	defer span.End()
	return s.Inner.Insert(ctx, triple)
}

func (s *TracedStore) Query(ctx context.Context, filter factstore.QueryFilter) ([]*types.Triple, error) {
	ctx, span := s.span(ctx, "Query")
	defer span.End()
	return s.Inner.Query(ctx, filter)
}

func (s *TracedStore) Get(ctx context.Context, fingerprint string) (*types.Triple, bool, error) {
	ctx, span := s.span(ctx, "Get")
	defer span.End()
	return s.Inner.Get(ctx, fingerprint)
}

func (s *TracedStore) RecordConflict(ctx context.Context, aFP, bFP string, kind types.ConflictKind) (string, error) {
	ctx, span := s.span(ctx, "RecordConflict")
	defer span.End()
	id, err := s.Inner.RecordConflict(ctx, aFP, bFP, kind)
	if err == nil && s.Metrics != nil {
		s.Metrics.ConflictsTotal.Inc()
	}
	return id, err
}

func (s *TracedStore) Supersede(ctx context.Context, oldFP, newFP string) error {
	ctx, span := s.span(ctx, "Supersede")
	defer span.End()
	return s.Inner.Supersede(ctx, oldFP, newFP)
}

func (s *TracedStore) Promote(ctx context.Context, fingerprint string, tier types.Tier) error {
	ctx, span := s.span(ctx, "Promote")
	defer span.End()
	err := s.Inner.Promote(ctx, fingerprint, tier)
	if err == nil && s.Metrics != nil {
		s.Metrics.PromotionsTotal.WithLabelValues(tier.String()).Inc()
	}
	return err
}

func (s *TracedStore) Conflicts(ctx context.Context, fingerprints ...string) ([]*types.Conflict, error) {
	ctx, span := s.span(ctx, "Conflicts")
	defer span.End()
	return s.Inner.Conflicts(ctx, fingerprints...)
}

func (s *TracedStore) ResolveConflict(ctx context.Context, conflictID string, status types.ConflictStatus, resolution string) error {
	ctx, span := s.span(ctx, "ResolveConflict")
	defer span.End()
	return s.Inner.ResolveConflict(ctx, conflictID, status, resolution)
}

func (s *TracedStore) StatsByTier(ctx context.Context) (factstore.Stats, error) {
	ctx, span := s.span(ctx, "StatsByTier")
	defer span.End()
	return s.Inner.StatsByTier(ctx)
}

func (s *TracedStore) Close() error {
	return s.Inner.Close()
}

var _ factstore.FactStore = (*TracedStore)(nil)
var _ capability.LanguageModel = (*TracedModel)(nil)
var _ capability.SourceAdapter = (*TracedAdapter)(nil)
