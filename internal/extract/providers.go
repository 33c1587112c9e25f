// Completer backends for the three LLM providers the vault's config accepts.
// Grounded on the teacher's internal/llm/anthropic/client.go Chat method
// (request/param shape, sdk.Messages.New) and internal/llm/openai_client.go
// CallLLM (role-switched message conversion, sdk.Chat.Completions.New).
package extract

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"
	genai "google.golang.org/genai"
)

const defaultMaxTokens = 1024

// AnthropicCompleter implements Completer over the Anthropic Messages API.
type AnthropicCompleter struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicCompleter(apiKey, model string) *AnthropicCompleter {
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicCompleter{
		sdk:       anthropic.NewClient(anthropicoption.WithAPIKey(strings.TrimSpace(apiKey))),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	var system string
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = m.Content
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: c.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}

// OpenAICompleter implements Completer over the OpenAI Chat Completions API.
type OpenAICompleter struct {
	sdk         openai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAICompleter(baseURL, apiKey, model string) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompleter{
		sdk:         openai.NewClient(opts...),
		model:       model,
		maxTokens:   defaultMaxTokens,
		temperature: 0,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    converted,
		MaxTokens:   param.NewOpt(int64(c.maxTokens)),
		Temperature: param.NewOpt(c.temperature),
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("extract: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GoogleCompleter implements Completer over the Gemini GenerateContent API.
type GoogleCompleter struct {
	sdk   *genai.Client
	model string
}

func NewGoogleCompleter(ctx context.Context, apiKey, model string) (*GoogleCompleter, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, fmt.Errorf("extract: init google client: %w", err)
	}
	return &GoogleCompleter{sdk: client, model: model}, nil
}

func (c *GoogleCompleter) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	var system string
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = m.Content
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{SystemInstruction: genai.NewContentFromText(system, genai.RoleUser)}
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("extract: google returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// NewCompleter picks an implementation by provider name ("anthropic",
// "openai", "google"); anything else (including "") falls back to
// Anthropic, matching vconfig.DefaultConfig's own default provider.
// Google's client construction can fail (it dials for credentials), so a
// bad config there degrades to the Anthropic backend rather than returning
// an error: this function is always called from composition-root code
// that otherwise has no error path.
func NewCompleter(ctx context.Context, provider, baseURL, apiKey, model string) Completer {
	switch strings.ToLower(provider) {
	case "openai":
		return NewOpenAICompleter(baseURL, apiKey, model)
	case "google":
		if c, err := NewGoogleCompleter(ctx, apiKey, model); err == nil {
			return c
		}
		return NewAnthropicCompleter(apiKey, model)
	default:
		return NewAnthropicCompleter(apiKey, model)
	}
}
