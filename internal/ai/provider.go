package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trendmind/trendmind/pkg/config"
	"github.com/trendmind/trendmind/pkg/telemetry"
)

// Provider names used for suggestion sources.
const (
	OpenAI = "openai"
	Gemini = "gemini"
)

const systemPrompt = "You are a technology trend analyst. Reply with a JSON array only."

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("provider returned no content")

// Provider generates free text for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatClient implements Provider over an OpenAI-compatible chat completions API.
type ChatClient struct {
	name        string
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ Provider = (*ChatClient)(nil)

// NewChatClient builds a client from configuration.
func NewChatClient(name string, cfg config.ProviderConfig, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		name:        name,
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Providers returns a client for every configured provider.
func Providers(cfg *config.AIConfig) []Provider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var out []Provider
	if cfg.OpenAI.Enabled() {
		out = append(out, NewChatClient(OpenAI, cfg.OpenAI, timeout))
	}
	if cfg.Gemini.Enabled() {
		out = append(out, NewChatClient(Gemini, cfg.Gemini, timeout))
	}
	return out
}

// Name identifies the provider in suggestions and batch counts.
func (c *ChatClient) Name() string {
	return c.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends prompt as a user message and returns the first choice.
func (c *ChatClient) Generate(ctx context.Context, prompt string) (text string, err error) {
	if c.apiKey == "" || c.model == "" {
		return "", fmt.Errorf("%s client misconfigured", c.name)
	}

	ctx, span := telemetry.StartSpan(ctx, "ai.generate")
	span.SetAttributes(attribute.String("ai.provider", c.name), attribute.String("ai.model", c.model))
	defer func() { telemetry.EndSpan(span, err) }()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%s error %s: %s", c.name, resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.name, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
	}
	return decoded.Choices[0].Message.Content, nil
}
