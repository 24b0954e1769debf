// Package gemini is the primary AI digest rung, backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/JakeFAU/ai-digest/internal/digest"
)

// Name identifies this rung in digests and logs.
const Name = "gemini"

const (
	defaultModel     = "gemini-2.0-flash"
	defaultTimeout   = 60 * time.Second
	temperature      = 0.3
	maxOutputTokens  = 600
	statusExhausted  = "RESOURCE_EXHAUSTED"
	statusPermission = "PERMISSION_DENIED"
	statusAuth       = "UNAUTHENTICATED"
)

// ErrNoAPIKey is returned by New without a credential.
var ErrNoAPIKey = errors.New("gemini api key not configured")

// Config controls the summarizer.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// generator is the slice of the genai client this package uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Summarizer implements digest.Strategy.
type Summarizer struct {
	cfg    Config
	models generator
}

// New builds a Summarizer with a Gemini API client.
func New(ctx context.Context, cfg Config) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newWithGenerator(cfg, client.Models), nil
}

func newWithGenerator(cfg Config, models generator) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Summarizer{cfg: cfg, models: models}
}

// Name implements digest.Strategy.
func (s *Summarizer) Name() string { return Name }

// Summarize implements digest.Strategy.
func (s *Summarizer) Summarize(ctx context.Context, batch digest.Batch) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.models.GenerateContent(ctx, s.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(digest.Prompt(batch), genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(digest.SystemInstruction, genai.RoleUser),
			Temperature:       genai.Ptr[float32](temperature),
			MaxOutputTokens:   maxOutputTokens,
		},
	)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil {
		return "", digest.NewSummarizerError(digest.FailureTransient, errors.New("empty gemini response"))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", digest.NewSummarizerError(digest.FailureTransient, errors.New("gemini returned no text"))
	}
	return text, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if errors.As(err, &ptr) && ptr != nil {
			apiErr = *ptr
		} else {
			return digest.NewSummarizerError(digest.FailureTransient, err)
		}
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == statusExhausted:
		return digest.NewSummarizerError(digest.FailureQuota, err)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden,
		apiErr.Status == statusAuth || apiErr.Status == statusPermission:
		return digest.NewSummarizerError(digest.FailureAuth, err)
	default:
		return digest.NewSummarizerError(digest.FailureTransient, err)
	}
}
