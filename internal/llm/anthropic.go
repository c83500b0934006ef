package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 1024

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Retry      RetryPolicy
}

// Anthropic is a thin wrapper around the official anthropic-sdk-go client.
type Anthropic struct {
	apiKey string
	retry  RetryPolicy
	client anthropic.Client
}

// NewAnthropic constructs a provider with sane defaults.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // explicit retry behavior in this package
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &Anthropic{
		apiKey: apiKey,
		retry:  NormalizeRetryPolicy(cfg.Retry),
		client: anthropic.NewClient(clientOptions...),
	}
}

// Generate executes one Anthropic Messages API request and returns the
// concatenated text content.
func (p *Anthropic) Generate(ctx context.Context, req *Request) (string, error) {
	if p == nil || req == nil {
		return "", fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.apiKey) == "" {
		return "", ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	retry := mergeRetryPolicy(p.retry, req.Retry)
	text, err := generateWithRetry(ctx, retry, func(ctx context.Context) (string, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if isRetryableProviderError(err) {
				return "", MarkRetryable(fmt.Errorf("anthropic generate: %w", err))
			}
			return "", fmt.Errorf("anthropic generate: %w", err)
		}
		return collectText(msg), nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// mergeRetryPolicy overlays request-level retry options on provider defaults.
func mergeRetryPolicy(base, override RetryPolicy) RetryPolicy {
	merged := NormalizeRetryPolicy(base)
	if override.MaxRetries > 0 {
		merged.MaxRetries = override.MaxRetries
	}
	if override.BaseDelay > 0 {
		merged.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		merged.MaxDelay = override.MaxDelay
	}
	if merged.MaxDelay < merged.BaseDelay {
		merged.MaxDelay = merged.BaseDelay
	}
	return merged
}

func collectText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// isRetryableProviderError identifies transient transport/API failures worth retrying.
func isRetryableProviderError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
