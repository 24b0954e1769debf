// Package openai is the secondary AI digest rung for any OpenAI-compatible
// chat completions endpoint.
package openai

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

	"github.com/JakeFAU/ai-digest/internal/digest"
)

// Name identifies this rung in digests and logs.
const Name = "openai"

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"
	defaultTimeout  = 30 * time.Second
	temperature     = 0.3
	maxTokens       = 600
	maxErrorBody    = 4 << 10
)

// ErrNoAPIKey is returned by New without a credential.
var ErrNoAPIKey = errors.New("openai api key not configured")

// Config controls the summarizer.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// Summarizer implements digest.Strategy.
type Summarizer struct {
	cfg    Config
	client *http.Client
}

// New builds a Summarizer. client may be nil.
func New(cfg Config, client *http.Client) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Summarizer{cfg: cfg, client: client}, nil
}

// Name implements digest.Strategy.
func (s *Summarizer) Name() string { return Name }

// Summarize implements digest.Strategy.
func (s *Summarizer) Summarize(ctx context.Context, batch digest.Batch) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: digest.SystemInstruction},
			{Role: "user", Content: digest.Prompt(batch)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", digest.NewSummarizerError(digest.FailureTransient, fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", digest.NewSummarizerError(digest.FailureTransient, fmt.Errorf("decode response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return "", digest.NewSummarizerError(digest.FailureTransient, errors.New("empty choices in response"))
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr errorResponse
	_ = json.Unmarshal(raw, &apiErr)
	cause := fmt.Errorf("api returned status %d: %s", resp.StatusCode, apiErr.Error.Message)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, apiErr.Error.Code == "insufficient_quota", apiErr.Error.Type == "insufficient_quota":
		return digest.NewSummarizerError(digest.FailureQuota, cause)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return digest.NewSummarizerError(digest.FailureAuth, cause)
	default:
		return digest.NewSummarizerError(digest.FailureTransient, cause)
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
