package coach

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/llm"
	"github.com/ashureev/reborn/internal/metrics"
	"github.com/ashureev/reborn/internal/store"
)

var (
	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrGeneration wraps failures of the language model.
	ErrGeneration = errors.New("generate reply")
)

const defaultSaveTimeout = 5 * time.Second

// Config tunes generation requests.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// SaveTimeout bounds the best-effort save of a partial reply after the
	// client went away.
	SaveTimeout time.Duration
}

// Reply is the result of a non-streaming chat turn.
type Reply struct {
	Reply    string   `json:"reply"`
	Insights []string `json:"insights"`
}

// Service runs coaching conversation turns.
type Service struct {
	conversations store.ConversationStore
	profiles      store.ProfileStore
	gen           llm.Generator
	prompts       *PromptBuilder
	cfg           Config
	metrics       *metrics.Metrics
}

// NewService creates a coaching service.
func NewService(conversations store.ConversationStore, profiles store.ProfileStore, gen llm.Generator, cfg Config, m *metrics.Metrics) *Service {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	return &Service{
		conversations: conversations,
		profiles:      profiles,
		gen:           gen,
		prompts:       NewPromptBuilder(),
		cfg:           cfg,
		metrics:       m,
	}
}

// History returns the messages of the user's latest conversation.
func (s *Service) History(ctx context.Context, userID string) ([]domain.Message, error) {
	conv, err := s.conversations.LatestConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv.Messages, nil
}

// ClearHistory deletes every conversation of the user.
func (s *Service) ClearHistory(ctx context.Context, userID string) (int64, error) {
	n, err := s.conversations.ClearConversations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear conversations: %w", err)
	}
	slog.Info("Cleared chat history", "user_id", userID, "conversations", n)
	return n, nil
}

// turn is the prepared state of one chat turn.
type turn struct {
	userID  string
	conv    *domain.Conversation
	request *llm.Request
}

// begin records the user message and builds the generation request.
func (s *Service) begin(ctx context.Context, userID, text string) (*turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.conversations.LatestConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if err := s.conversations.AppendMessage(ctx, conv, domain.RoleUser, text); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	history := make([]domain.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		history = append(history, m)
	}

	return &turn{
		userID: userID,
		conv:   conv,
		request: &llm.Request{
			System:      s.prompts.Build(BuildUserContext(profile)),
			Messages:    history,
			Model:       s.cfg.Model,
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxTokens,
		},
	}, nil
}

// finish persists a completed reply: merged insights first, then the cleaned
// assistant message.
func (s *Service) finish(ctx context.Context, t *turn, raw, cleaned string) ([]string, error) {
	extracted := ExtractInsights(raw)
	if len(extracted) > 0 {
		s.metrics.RecordInsights(len(extracted))

		profile, err := s.profiles.GetProfile(ctx, t.userID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		var existing []string
		if profile != nil {
			existing = profile.KeyInsights
		}
		merged := domain.MergeInsights(existing, extracted)
		if err := s.profiles.SaveInsights(ctx, t.userID, merged); err != nil {
			return nil, fmt.Errorf("save insights: %w", err)
		}
		slog.Info("Saved insights", "user_id", t.userID, "extracted", len(extracted), "total", len(merged))
	}

	if err := s.conversations.AppendMessage(ctx, t.conv, domain.RoleAssistant, cleaned); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	if extracted == nil {
		extracted = []string{}
	}
	return extracted, nil
}

// savePartial stores whatever cleaned text reached the client before it went
// away. Insights are not extracted from an incomplete reply.
func (s *Service) savePartial(ctx context.Context, t *turn, emitted string) {
	if emitted == "" {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SaveTimeout)
	defer cancel()
	if err := s.conversations.AppendMessage(saveCtx, t.conv, domain.RoleAssistant, emitted); err != nil {
		slog.Warn("Failed to save partial reply", "user_id", t.userID, "error", err)
		return
	}
	slog.Info("Saved partial reply", "user_id", t.userID, "length", len(emitted))
}

// Stream runs one chat turn and returns its reply as a sequence of events:
// cleaned deltas, then exactly one EventDone or EventError. Errors that occur
// before generation starts are returned directly.
//
// If the consumer stops early or ctx is cancelled, the text already delivered
// to the consumer is saved as the assistant message.
func (s *Service) Stream(ctx context.Context, userID, text string) (iter.Seq[StreamEvent], error) {
	t, err := s.begin(ctx, userID, text)
	if err != nil {
		return nil, err
	}

	return func(yield func(StreamEvent) bool) {
		start := time.Now()
		defer func() { s.metrics.RecordChatLatency(time.Since(start).Seconds()) }()

		filter := NewMarkerFilter()
		for ev := range filter.Filter(s.gen.Stream(ctx, t.request)) {
			switch ev.Kind {
			case EventDelta:
				s.metrics.RecordFragment()
				if !yield(ev) {
					slog.Info("Chat consumer stopped mid-stream", "user_id", userID)
					s.savePartial(ctx, t, filter.Emitted())
					return
				}
			case EventError:
				if ctx.Err() != nil {
					slog.Info("Chat stream cancelled", "user_id", userID)
					s.metrics.RecordChatError("cancelled")
					s.savePartial(ctx, t, filter.Emitted())
					return
				}
				slog.Error("LLM stream failed", "user_id", userID, "error", ev.Err)
				s.metrics.RecordChatError("llm")
				yield(StreamEvent{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrGeneration, ev.Err)})
				return
			case EventDone:
				if _, err := s.finish(ctx, t, filter.Raw(), filter.Cleaned()); err != nil {
					slog.Error("Failed to persist reply", "user_id", userID, "error", err)
					s.metrics.RecordChatError("persist")
					yield(StreamEvent{Kind: EventError, Err: err})
					return
				}
				yield(StreamEvent{Kind: EventDone})
				return
			}
		}
	}, nil
}

// Reply runs one chat turn without streaming.
func (s *Service) Reply(ctx context.Context, userID, text string) (*Reply, error) {
	start := time.Now()
	defer func() { s.metrics.RecordChatLatency(time.Since(start).Seconds()) }()

	t, err := s.begin(ctx, userID, text)
	if err != nil {
		return nil, err
	}

	raw, err := s.gen.Complete(ctx, t.request)
	if err != nil {
		s.metrics.RecordChatError("llm")
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	cleaned := StripMarkers(raw)
	insights, err := s.finish(ctx, t, raw, cleaned)
	if err != nil {
		s.metrics.RecordChatError("persist")
		return nil, err
	}
	return &Reply{Reply: cleaned, Insights: insights}, nil
}
