// Package capability defines the narrow external contracts the kernel
// consumes and never implements: LanguageModel inference, SourceAdapter
// collection, and the suspension/cancellation shape shared by both. Concrete
// backends (a real LLM, a real scraper) are collaborators; this package only
// fixes the interface and the deterministic fakes every other package tests
// against.
package capability

import (
	"context"
	"time"
)

// Completion is the result of a LanguageModel.Complete call.
type Completion struct {
	Text       string
	TokensIn   int
	TokensOut  int
}

// LanguageModel is the abstract model-inference capability. Implementations
// must be deterministic for a fixed (prompt, system, temperature, stop) tuple
// when the backend is seedable; the kernel relies on this for replay and
// deterministic variant selection.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// CompletionRequest carries the sampling and budget parameters for one
// completion.
type CompletionRequest struct {
	Prompt         string
	System         string
	Temperature    float64
	MaxOutputTokens int
	Stop           []string
	Deadline       time.Time // zero means no deadline
}

// SourceDocument is one opaque unit returned by a SourceAdapter fetch. The
// kernel assigns its own fingerprint on ingest; Text/SourceID/Timestamp are
// the only fields it reads.
type SourceDocument struct {
	Text      string
	SourceID  string
	Timestamp time.Time
}

// SourceAdapter is the abstract external-collector capability (web/forum/
// document scrapers). The kernel treats returned entries as opaque text plus
// provenance.
type SourceAdapter interface {
	Fetch(ctx context.Context, query string, sourceKind string) ([]SourceDocument, error)
}
