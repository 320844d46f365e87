package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/reborn/internal/domain"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicGenerator talks to the Anthropic Messages API.
type AnthropicGenerator struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewAnthropicGenerator creates a generator for the Anthropic Messages API.
func NewAnthropicGenerator(cfg Config) *AnthropicGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicGenerator{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (g *AnthropicGenerator) params(req *Request) anthropic.MessageNewParams {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	// The Messages API takes system text separately; system-role history
	// entries are folded into it.
	system := []string{}
	if req.System != "" {
		system = append(system, req.System)
	}
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case domain.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case domain.RoleSystem:
			system = append(system, msg.Content)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	temperature := g.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	return params
}

// Complete sends a non-streaming Messages request.
func (g *AnthropicGenerator) Complete(ctx context.Context, req *Request) (string, error) {
	msg, err := g.client.Messages.New(ctx, g.params(req))
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}

// Stream sends a streaming Messages request.
func (g *AnthropicGenerator) Stream(ctx context.Context, req *Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := g.params(req)
		slog.Debug("Sending Anthropic stream request", "model", params.Model, "messages", len(params.Messages))

		stream := g.client.Messages.NewStreaming(ctx, params)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Debug("Failed to close Anthropic stream", "error", err)
			}
		}()

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					if !yield(text.Text, nil) {
						return
					}
				}
			case "message_stop":
				return
			case "error":
				yield("", fmt.Errorf("anthropic stream: %s", event.RawJSON()))
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("anthropic stream: %w", err))
		}
	}
}
