package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIBaseURL is the OpenAI-compatible endpoint of DashScope, which
// serves the qwen models the coach was tuned on.
const DefaultOpenAIBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIGenerator creates a generator for an OpenAI-compatible endpoint.
func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (g *OpenAIGenerator) params(req *Request) openai.ChatCompletionNewParams {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	temperature := g.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	return params
}

// Complete sends a non-streaming chat completion request.
func (g *OpenAIGenerator) Complete(ctx context.Context, req *Request) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, g.params(req))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends a streaming chat completion request.
func (g *OpenAIGenerator) Stream(ctx context.Context, req *Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := g.params(req)
		slog.Debug("Sending OpenAI stream request", "model", params.Model, "messages", len(params.Messages))

		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Debug("Failed to close OpenAI stream", "error", err)
			}
		}()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("openai stream: %w", err))
		}
	}
}
