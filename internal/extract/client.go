package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DashScopeBaseURL is the OpenAI-compatible endpoint of Alibaba Cloud Model Studio.
const DashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "qwen-plus"

// Completer sends one prompt to a chat model and returns the raw reply text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientConfig configures Client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Client calls an OpenAI-compatible chat completion API in JSON mode.
type Client struct {
	api         *openai.Client
	httpClient  *http.Client
	model       string
	temperature float32
	Stats       *LLMStats
}

// NewClient builds a Client. Every call is recorded in stats,
// which may be nil.
func NewClient(cfg ClientConfig, stats *LLMStats) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DashScopeBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if stats == nil {
		stats = NewLLMStats(time.Hour)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = httpClient

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		httpClient:  httpClient,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		Stats:       stats,
	}
}

// Model returns the model identifier requests are sent to.
func (c *Client) Model() string { return c.model }

// Complete sends prompt with the rule extraction system prompt and returns
// the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, SystemPrompt, prompt)
}

// Chat sends one system and one user message in JSON mode and returns the
// reply. Rate limiting and server errors come back as *RetryableError.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: wireTemperature(c.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	rec := Call{
		Latency:          time.Since(start),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if err != nil {
		err = classify(err)
		var retryErr *RetryableError
		rec.Failed = true
		rec.RateLimited = errors.As(err, &retryErr) && retryErr.StatusCode == http.StatusTooManyRequests
		c.Stats.Record(rec)
		return "", err
	}
	if len(resp.Choices) == 0 {
		rec.Failed = true
		c.Stats.Record(rec)
		return "", &RetryableError{StatusCode: http.StatusOK, Message: "response has no choices"}
	}
	c.Stats.Record(rec)
	return resp.Choices[0].Message.Content, nil
}

// wireTemperature keeps a zero temperature on the wire; the request field is
// omitempty, and an omitted temperature means the provider default.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return &RetryableError{StatusCode: status, Message: err.Error(), Err: err}
	}
	return fmt.Errorf("chat completion: %w", err)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
