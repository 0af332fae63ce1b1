package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second

	systemPrompt = "You are an expert researcher. Provide comprehensive, detailed, and accurate research. Format your response in markdown. Be thorough and professional."
)

var ErrAPIKeyNotSet = errors.New("generator API key not set")

// OpenAI generates content through an OpenAI-compatible chat completions
// endpoint. The timeout is enforced per call; a timeout surfaces as an
// ordinary error so callers take the fallback path.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

type OpenAIOptions struct {
	APIKey    string
	Model     string
	BaseURL   string // empty means the default OpenAI endpoint
	MaxTokens int
	Timeout   time.Duration
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 3000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
	}, nil
}

func (g *OpenAI) Outline(ctx context.Context, topic string, depth int) (string, error) {
	prompt := fmt.Sprintf(`Generate a research outline for the topic: %q

Depth level: %d/5 (where 1=basic, 5=expert)

Create a concise outline covering the current landscape, key challenges,
analysis, and recommendations. Format as a markdown bullet list. Be
specific to the topic and adjust detail to the depth level.`, topic, depth)
	return g.complete(ctx, prompt)
}

func (g *OpenAI) SectionContent(ctx context.Context, topic, title, guidance string, depth int) (string, error) {
	prompt := fmt.Sprintf(`Write a research section titled %q for the topic: %q

Section focus: %s
Research depth: %d/5 (adjust detail accordingly)

Requirements:
- Provide current, accurate information with specific examples
- Use proper markdown formatting with headers, lists, and emphasis
- Include actionable insights and recommendations
- Focus specifically on %q throughout

Write 800-1200 words with proper structure and formatting.`, title, topic, guidance, depth, topic)
	return g.complete(ctx, prompt)
}

func (g *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(g.maxTokens)),
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
