package provider

import (
	"context"
	"fmt"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/google"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openaicompat"

	"github.com/openkoi/openkoi/internal/task"
)

// Fantasy adapts a fantasy.LanguageModel to the Provider interface. It
// is a plain transport: wrap it in Retrying for backoff behaviour.
type Fantasy struct {
	model     fantasy.LanguageModel
	maxTokens int
}

// NewFantasy wraps a fantasy language model. maxTokens is the default
// output cap when a request does not set one.
func NewFantasy(model fantasy.LanguageModel, maxTokens int) *Fantasy {
	return &Fantasy{model: model, maxTokens: maxTokens}
}

// Chat implements Provider using fantasy's Generate call.
func (f *Fantasy) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var prompt fantasy.Prompt
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			prompt = append(prompt, fantasy.NewSystemMessage(m.Content))
		case "user":
			prompt = append(prompt, fantasy.NewUserMessage(m.Content))
		case "assistant":
			prompt = append(prompt, fantasy.Message{
				Role:    fantasy.MessageRoleAssistant,
				Content: []fantasy.MessagePart{fantasy.TextPart{Text: m.Content}},
			})
		}
	}

	maxTokens := int64(f.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	resp, err := f.model.Generate(ctx, fantasy.Call{
		Prompt:          prompt,
		MaxOutputTokens: &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("fantasy generate: %w", err)
	}

	out := &ChatResponse{
		StopReason: string(resp.FinishReason),
		Usage: task.TokenUsage{
			Input:  int(resp.Usage.InputTokens),
			Output: int(resp.Usage.OutputTokens),
		},
	}
	for _, content := range resp.Content {
		switch c := content.(type) {
		case *fantasy.TextContent:
			out.Content += c.Text
		case fantasy.TextContent:
			out.Content += c.Text
		}
	}
	return out, nil
}

// EndpointConfig names a model endpoint. Provider may be left empty to
// infer it from the model name.
type EndpointConfig struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// InferProvider guesses the provider from model name patterns.
func InferProvider(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"), strings.HasPrefix(model, "gemma"):
		return "google"
	case strings.HasPrefix(model, "mistral"),
		strings.HasPrefix(model, "mixtral"),
		strings.HasPrefix(model, "codestral"):
		return "mistral"
	}
	return ""
}

// Connect builds a Provider for the configured endpoint.
func Connect(ctx context.Context, cfg EndpointConfig) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProvider(cfg.Model)
	}
	if cfg.Provider == "" {
		return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
	}

	endpoint, err := newEndpoint(cfg.Provider, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}
	model, err := endpoint.LanguageModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to get model %s: %w", cfg.Model, err)
	}
	return NewFantasy(model, cfg.MaxTokens), nil
}

func newEndpoint(name, apiKey, baseURL string) (fantasy.Provider, error) {
	switch name {
	case "anthropic":
		return anthropic.New(anthropic.WithAPIKey(apiKey))
	case "openai":
		if baseURL != "" {
			return openaicompat.New(
				openaicompat.WithBaseURL(baseURL),
				openaicompat.WithAPIKey(apiKey),
				openaicompat.WithName("openai"),
			)
		}
		return openai.New(openai.WithAPIKey(apiKey))
	case "google":
		return google.New(google.WithGeminiAPIKey(apiKey))
	case "mistral":
		url := "https://api.mistral.ai/v1"
		if baseURL != "" {
			url = baseURL
		}
		return openaicompat.New(
			openaicompat.WithBaseURL(url),
			openaicompat.WithAPIKey(apiKey),
			openaicompat.WithName("mistral"),
		)
	case "groq":
		url := "https://api.groq.com/openai/v1"
		if baseURL != "" {
			url = baseURL
		}
		return openaicompat.New(
			openaicompat.WithBaseURL(url),
			openaicompat.WithAPIKey(apiKey),
			openaicompat.WithName("groq"),
		)
	case "openai-compat", "openrouter", "ollama", "lmstudio":
		if baseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", name)
		}
		return openaicompat.New(
			openaicompat.WithBaseURL(baseURL),
			openaicompat.WithAPIKey(apiKey),
			openaicompat.WithName(name),
		)
	}
	return nil, fmt.Errorf("unsupported provider: %s", name)
}
