// Package llm adapts chat-completion providers to a single text generator
// interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/ashureev/reborn/internal/domain"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown llm provider")

// Request is a provider-independent generation request.
type Request struct {
	System      string
	Messages    []domain.Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator produces assistant text for a conversation.
type Generator interface {
	// Complete returns the whole reply at once.
	Complete(ctx context.Context, req *Request) (string, error)

	// Stream yields the reply as ordered text fragments. A failure is
	// yielded once as a non-nil error, after which the sequence ends.
	Stream(ctx context.Context, req *Request) iter.Seq2[string, error]
}

// Config selects and configures a provider.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// New builds the generator named by cfg.Provider.
func New(cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "dashscope", "":
		return NewOpenAIGenerator(cfg), nil
	case "anthropic":
		return NewAnthropicGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Collect drains a stream into a single string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var sb strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}
