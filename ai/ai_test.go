package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		SystemPrompt: "你是测试角色",
		History: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		UserMessage: "我的余额多少?",
		DataContext: `{"chainData":{}}`,
	}
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, body openai.ChatCompletionRequest, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) LLMConfig {
	cfg := DefaultLLMConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = url + "/"
	cfg.SiteURL = "https://nfaclaw.example"
	return cfg
}

func TestReplyFromUpstream(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, body openai.ChatCompletionRequest, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "https://nfaclaw.example", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "flapflaw-agent", r.Header.Get("X-Title"))
		assert.Equal(t, "openai/gpt-4o-mini", body.Model)
		assert.InDelta(t, 0.7, body.Temperature, 1e-6)

		if !assert.Len(t, body.Messages, 5) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, openai.ChatMessageRoleSystem, body.Messages[0].Role)
		assert.Equal(t, "hi", body.Messages[1].Content)
		assert.Equal(t, "assistant", body.Messages[2].Role)
		assert.Equal(t, openai.ChatMessageRoleSystem, body.Messages[3].Role)
		assert.True(t, strings.HasPrefix(body.Messages[3].Content, "链上上下文:\n"))
		assert.Equal(t, openai.ChatMessageRoleUser, body.Messages[4].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "openai/gpt-4o-mini-2024",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "  余额是 1 FLAP  "}},
			},
		})
	})

	got := NewClient(testConfig(srv.URL), nil).Reply(context.Background(), testRequest())
	assert.False(t, got.Fallback)
	assert.Equal(t, "余额是 1 FLAP", got.Content)
	assert.Equal(t, "openai/gpt-4o-mini-2024", got.Model)
}

func TestReplyFallsBack(t *testing.T) {
	req := testRequest()

	t.Run("no key", func(t *testing.T) {
		got := NewClient(DefaultLLMConfig(), nil).Reply(context.Background(), req)
		assert.True(t, got.Fallback)
		assert.Equal(t, FallbackModel, got.Model)
		assert.Equal(t, ReasonNoAPIKey, got.Reason)
		assert.Equal(t, FallbackText(req.UserMessage, req.DataContext), got.Content)
	})

	t.Run("upstream error", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, _ openai.ChatCompletionRequest, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
		})
		got := NewClient(testConfig(srv.URL), nil).Reply(context.Background(), req)
		assert.True(t, got.Fallback)
		assert.Equal(t, ReasonRequestFailed, got.Reason)
	})

	t.Run("empty content", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, _ openai.ChatCompletionRequest, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "   "}}},
			})
		})
		got := NewClient(testConfig(srv.URL), nil).Reply(context.Background(), req)
		assert.True(t, got.Fallback)
		assert.Equal(t, ReasonEmptyResponse, got.Reason)
	})
}

func TestFallbackText(t *testing.T) {
	lines := strings.Split(FallbackText("q?", "{\n}"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "{", lines[1])
	assert.Equal(t, "", lines[3])
	assert.Equal(t, "你刚才的问题是: q?", lines[4])
}
