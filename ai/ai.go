// Package ai talks to an OpenAI-compatible chat completion endpoint
// (OpenRouter by default) and falls back to a deterministic local reply
// whenever that endpoint is unavailable.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// FallbackModel is reported as the model of every local reply.
const FallbackModel = "fallback-local"

// Fallback reasons.
const (
	ReasonNoAPIKey      = "no_api_key"
	ReasonRequestFailed = "request_failed"
	ReasonEmptyResponse = "empty_response"
)

var errEmptyResponse = errors.New("empty completion response")

// LLMConfig holds configuration for LLM interactions
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	SiteURL     string
	AppName     string
	Temperature float32
}

// DefaultLLMConfig returns the OpenRouter defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:     "https://openrouter.ai/api/v1",
		Model:       "openai/gpt-4o-mini",
		AppName:     "flapflaw-agent",
		Temperature: 0.7,
	}
}

// Message is one prior turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is everything needed to produce one reply.
type Request struct {
	SystemPrompt string
	History      []Message
	UserMessage  string
	DataContext  string
}

// Reply is a generated or fallback answer.
type Reply struct {
	Content  string
	Model    string
	Fallback bool
	// Reason is set on fallback replies.
	Reason string
}

// Client generates persona replies.
type Client struct {
	api    *openai.Client
	cfg    LLMConfig
	logger *zap.Logger
}

// NewClient builds a Client. Without an API key every reply is a local
// fallback.
func NewClient(cfg LLMConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, logger: logger}
	if cfg.APIKey == "" {
		logger.Warn("LLM API key not set, using local fallback replies")
		return c
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	headers := map[string]string{}
	if cfg.SiteURL != "" {
		headers["HTTP-Referer"] = cfg.SiteURL
	}
	if cfg.AppName != "" {
		headers["X-Title"] = cfg.AppName
	}
	conf.HTTPClient = &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: headers}}
	c.api = openai.NewClientWithConfig(conf)
	return c
}

// Reply answers req. It never fails: any upstream problem yields the local
// fallback reply.
func (c *Client) Reply(ctx context.Context, req Request) Reply {
	if c.api == nil {
		return fallback(req, ReasonNoAPIKey)
	}

	reply, err := c.complete(ctx, Messages(req))
	if err != nil {
		reason := ReasonRequestFailed
		if errors.Is(err, errEmptyResponse) {
			reason = ReasonEmptyResponse
		}
		c.logger.Warn("LLM request failed, falling back", zap.String("reason", reason), zap.Error(err))
		return fallback(req, reason)
	}
	return reply
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (Reply, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages:    messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Reply{}, errEmptyResponse
	}
	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return Reply{Content: content, Model: model}, nil
}

// Messages orders the conversation as system prompt, history, chain context,
// then the user's message.
func Messages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+3)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	for _, h := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: "链上上下文:\n" + req.DataContext},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage},
	)
	return msgs
}

func fallback(req Request, reason string) Reply {
	return Reply{
		Content:  FallbackText(req.UserMessage, req.DataContext),
		Model:    FallbackModel,
		Fallback: true,
		Reason:   reason,
	}
}

// FallbackText is the local reply: the chain data verbatim plus the echoed
// question.
func FallbackText(userMessage, dataContext string) string {
	return strings.Join([]string{
		"OpenRouter 暂不可用，先给你本地链上结果：",
		dataContext,
		"",
		"你刚才的问题是: " + userMessage,
		"如果你要我继续，我可以按你的 NFA 角色风格继续给出下一步动作建议。",
	}, "\n")
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}
