package generate

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
)

// ModelBackend calls an OpenAI-compatible chat model directly with the
// composed prompt. Unlike the sidecar, this backend relies entirely on the
// prompt composer: base plus deltas is the whole conversation.
type ModelBackend struct {
	model llms.Model
	name  string
}

// NewModelBackend builds the direct LLM backend.
func NewModelBackend(modelName, baseURL, apiKey string) (*ModelBackend, error) {
	opts := []openai.Option{openai.WithModel(modelName)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init model backend: %w", err)
	}
	return &ModelBackend{model: llm, name: modelName}, nil
}

func (m *ModelBackend) Name() string { return "model:" + m.name }

// GenerateSQL sends the composed prompt and extracts the SQL from the
// completion.
func (m *ModelBackend) GenerateSQL(ctx context.Context, req *Request) (*Response, error) {
	completion, err := m.model.Call(ctx, req.Prompt,
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(1024),
	)
	if err != nil {
		return nil, fault.New(fault.KindGenerationFailed, "model call: %v", err)
	}
	sql := ExtractSQL(completion)
	if sql == "" {
		return nil, fault.New(fault.KindGenerationFailed, "completion contained no SQL")
	}
	// direct drafts start confident; the pipeline shaves confidence per
	// repair attempt and per lint finding
	return &Response{SQL: sql, Confidence: 0.85}, nil
}

// Health sends a trivial completion to verify credentials and reachability.
func (m *ModelBackend) Health(ctx context.Context) error {
	_, err := m.model.Call(ctx, "SELECT 1", llms.WithMaxTokens(4))
	if err != nil {
		return fault.New(fault.KindGenerationFailed, "model unreachable: %v", err)
	}
	return nil
}
