package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/config"
)

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else."

// AnthropicClient implements schemas.LLMClient on top of the Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	cfg    config.AgentConfig
	retry  retryPolicy
	logger *zap.Logger
}

var _ schemas.LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for model using apiKey. The SDK's own
// retries are disabled; transient failures go through the shared backoff.
func NewAnthropicClient(cfg config.AgentConfig, model, apiKey string, logger *zap.Logger) (*AnthropicClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = cfg.Model
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		cfg:    cfg,
		retry:  retryPolicy{maxElapsed: cfg.MaxRetryElapsed},
		logger: logger.Named("llm_client.anthropic"),
	}, nil
}

// Generate sends req to the model, retrying transient failures.
func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var text string
	operation := func() error {
		start := time.Now()
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return c.classify(err)
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return backoff.Permanent(fmt.Errorf("anthropic API returned no text content (stop reason: %s)", msg.StopReason))
		}

		c.logger.Info("LLM generation complete (Anthropic)",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("prompt_tokens", msg.Usage.InputTokens),
			zap.Int64("completion_tokens", msg.Usage.OutputTokens),
		)
		text = sb.String()
		return nil
	}

	if err := c.retry.run(ctx, operation); err != nil {
		return "", err
	}
	return text, nil
}

// Close is a no-op.
func (c *AnthropicClient) Close() error { return nil }

func (c *AnthropicClient) buildParams(req schemas.GenerationRequest) anthropic.MessageNewParams {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.UserPrompt)}
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)))
	}

	maxTokens := int64(c.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	system := req.SystemPrompt
	if req.Options.ForceJSONFormat {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyInstruction)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = float64(c.cfg.Temperature)
	}
	// The Messages API caps temperature at 1.
	if temperature > 1 {
		temperature = 1
	}
	params.Temperature = anthropic.Float(temperature)

	topK := req.Options.TopK
	if topK == 0 {
		topK = c.cfg.TopK
	}
	if topK > 0 {
		params.TopK = anthropic.Int(int64(topK))
	}
	return params
}

func (c *AnthropicClient) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			c.logger.Warn("Anthropic API returned a transient error, retrying...", zap.Int("status", apiErr.StatusCode))
			return fmt.Errorf("anthropic API error: %w", err)
		}
		c.logger.Error("Anthropic API returned error status", zap.Int("status", apiErr.StatusCode), zap.Error(err))
		return backoff.Permanent(fmt.Errorf("anthropic API error: %w", err))
	}
	c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
	return fmt.Errorf("anthropic request failed: %w", err)
}
