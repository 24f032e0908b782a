package capability

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedModel is a deterministic LanguageModel fake: every other
// package's tests drive against this instead of a live model.
//
// Responses are looked up by exact prompt first; if no exact match exists,
// Responder (if set) computes one deterministically from the request.
// Either path is pure with respect to its input, so two independent runs
// against the same script produce identical output.
type ScriptedModel struct {
	mu        sync.Mutex
	Responses map[string]string
	Responder func(req CompletionRequest) (string, error)
	Calls     []CompletionRequest
}

// NewScriptedModel creates an empty scripted model; populate Responses or
// Responder before use.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{Responses: make(map[string]string)}
}

// Complete implements LanguageModel deterministically.
func (m *ScriptedModel) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()

	if resp, ok := m.Responses[req.Prompt]; ok {
		return Completion{Text: resp, TokensOut: len(resp) / 4}, nil
	}
	if m.Responder != nil {
		text, err := m.Responder(req)
		if err != nil {
			return Completion{}, err
		}
		return Completion{Text: text, TokensOut: len(text) / 4}, nil
	}
	return Completion{}, fmt.Errorf("capability: scripted model has no response for prompt %q", req.Prompt)
}

// CallCount returns the number of Complete invocations recorded so far.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// InMemorySourceAdapter is the deterministic SourceAdapter fake: a fixed
// catalog of documents keyed by query.
type InMemorySourceAdapter struct {
	mu      sync.Mutex
	Catalog map[string][]SourceDocument
}

// NewInMemorySourceAdapter creates an empty adapter; populate Catalog before
// use.
func NewInMemorySourceAdapter() *InMemorySourceAdapter {
	return &InMemorySourceAdapter{Catalog: make(map[string][]SourceDocument)}
}

// Fetch returns the catalog entry for query, or an empty slice if absent.
func (a *InMemorySourceAdapter) Fetch(ctx context.Context, query string, sourceKind string) ([]SourceDocument, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SourceDocument(nil), a.Catalog[query]...), nil
}
