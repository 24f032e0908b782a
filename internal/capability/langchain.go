package capability

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// LangchainModel adapts a langchaingo llms.Model to the kernel's
// LanguageModel capability. This is the real, swappable backend the
// distilled spec leaves external: the core never imports a specific
// provider SDK, only langchaingo's provider-agnostic llms.Model interface.
type LangchainModel struct {
	Model llms.Model
}

// NewLangchainModel wraps an already-configured langchaingo model (OpenAI,
// Anthropic, Ollama, ...) as a capability.LanguageModel.
func NewLangchainModel(model llms.Model) *LangchainModel {
	return &LangchainModel{Model: model}
}

// Complete implements LanguageModel by delegating to
// llms.GenerateFromSinglePrompt with the request's sampling parameters.
func (m *LangchainModel) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	opts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxOutputTokens))
	}
	if len(req.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(req.Stop))
	}
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, m.Model, prompt, opts...)
	if err != nil {
		return Completion{}, err
	}
	return Completion{
		Text:      text,
		TokensOut: len(text) / 4, // langchaingo does not guarantee token usage on every provider
	}, nil
}
