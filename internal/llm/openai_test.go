package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamingServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "qwen-plus", payload["model"])
		assert.Equal(t, true, payload["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			data, err := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "qwen-plus",
				"choices": []map[string]any{{
					"index":         0,
					"delta":         map[string]any{"content": c},
					"finish_reason": nil,
				}},
			})
			assert.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIGeneratorStream(t *testing.T) {
	srv := streamingServer(t, []string{"Hello", " there", "[INSIGHT: x]"})
	defer srv.Close()

	gen := NewOpenAIGenerator(Config{APIKey: "test", BaseURL: srv.URL, Model: "qwen-plus"})
	got, err := Collect(gen.Stream(context.Background(), &Request{
		System:   "be kind",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Hello there[INSIGHT: x]", got)
}

func TestOpenAIGeneratorStreamProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(Config{APIKey: "test", BaseURL: srv.URL, Model: "qwen-plus"})
	_, err := Collect(gen.Stream(context.Background(), &Request{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}))
	require.Error(t, err)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon"})
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewKnownProviders(t *testing.T) {
	for _, name := range []string{"", "openai", "dashscope", "anthropic", "Anthropic"} {
		gen, err := New(Config{Provider: name, APIKey: "k", Model: "m"})
		require.NoError(t, err, name)
		require.NotNil(t, gen, name)
	}
}
