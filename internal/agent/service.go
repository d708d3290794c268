// Package agent implements the remote model service: it turns an agent
// request into a model call and the model's answer into a decision.
package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/config"
	"github.com/xkilldash9x/keybridge/internal/llmclient"
	"github.com/xkilldash9x/keybridge/internal/llmutil"
	"github.com/xkilldash9x/keybridge/internal/settings"
)

const screenshotMIME = "image/png"

// ClientFactory creates a model client for an API key.
type ClientFactory func(ctx context.Context, cfg config.AgentConfig, apiKey string, logger *zap.Logger) (schemas.LLMClient, error)

// Service implements schemas.RemoteAgent.
type Service struct {
	cfg      config.AgentConfig
	settings schemas.SettingsStore
	capturer schemas.ScreenshotCapturer
	factory  ClientFactory
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu        sync.Mutex
	client    schemas.LLMClient
	clientKey string
}

var _ schemas.RemoteAgent = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithClientFactory replaces the provider factory.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Service) { s.factory = f }
}

// WithScreenshotCapturer sets the viewport capturer. Without one, requests
// asking for a screenshot are sent without it.
func WithScreenshotCapturer(c schemas.ScreenshotCapturer) Option {
	return func(s *Service) { s.capturer = c }
}

// NewService creates a Service. The API key is read from the settings store
// on every request, so a newly saved key takes effect immediately.
func NewService(cfg config.AgentConfig, store schemas.SettingsStore, logger *zap.Logger, opts ...Option) *Service {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	s := &Service{
		cfg:      cfg,
		settings: store,
		factory:  llmclient.NewClient,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.Named("agent"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendAgentRequest runs one model round trip. Model-side failures, including
// unparseable answers, are reported in AgentResponse.Error; a returned error
// means the request was cancelled or timed out.
func (s *Service) SendAgentRequest(ctx context.Context, req schemas.AgentRequest) (*schemas.AgentResponse, error) {
	apiKey := strings.TrimSpace(settings.String(s.settings, schemas.SettingLLMAPIKey))
	if apiKey == "" {
		return &schemas.AgentResponse{Error: "LLM API key is missing."}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	client, err := s.clientFor(ctx, apiKey)
	if err != nil {
		s.logger.Error("Failed to create model client.", zap.Error(err))
		return &schemas.AgentResponse{Error: fmt.Sprintf("Failed to create model client: %v", err)}, nil
	}

	resp := &schemas.AgentResponse{}
	var images []schemas.ImagePart
	if req.IncludeScreenshot {
		if png := s.capture(ctx); png != nil {
			images = append(images, schemas.ImagePart{MIMEType: screenshotMIME, Data: png})
			resp.Screenshot = "data:" + screenshotMIME + ";base64," + base64.StdEncoding.EncodeToString(png)
		}
	}

	systemPrompt := s.cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	genReq := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(req, len(images) > 0),
		Images:       images,
		Tier:         req.Tier,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	}

	start := time.Now()
	raw, err := client.Generate(ctx, genReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Warn("Model request failed.", zap.Error(err))
		resp.Error = fmt.Sprintf("Model request failed: %v", err)
		return resp, nil
	}
	resp.RawResponse = raw

	result, err := llmutil.ParseJSONResponse[schemas.DecisionResult](raw)
	if err != nil {
		s.logger.Debug("Model answer is not a decision.", zap.Error(err), zap.String("raw", llmutil.Truncate(raw, 500)))
		resp.Error = "Model returned a response that is not valid decision JSON."
		return resp, nil
	}
	resp.Result = result

	s.logger.Debug("Decision received.",
		zap.Duration("duration", time.Since(start)),
		zap.String("action", result.ActionText()),
		zap.String("next_action", result.NextActionText()),
	)
	return resp, nil
}

func (s *Service) capture(ctx context.Context) []byte {
	if s.capturer == nil {
		return nil
	}
	png, err := s.capturer.CaptureScreenshot(ctx)
	if err != nil {
		s.logger.Warn("Screenshot capture failed; continuing without it.", zap.Error(err))
		return nil
	}
	return png
}

// clientFor returns the cached client for apiKey, replacing it when the key
// has changed.
func (s *Service) clientFor(ctx context.Context, apiKey string) (schemas.LLMClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.clientKey == apiKey {
		return s.client, nil
	}
	client, err := s.factory(ctx, s.cfg, apiKey, s.logger)
	if err != nil {
		return nil, err
	}
	if s.client != nil {
		if cerr := s.client.Close(); cerr != nil {
			s.logger.Debug("Closing previous model client failed.", zap.Error(cerr))
		}
	}
	s.client = client
	s.clientKey = apiKey
	return client, nil
}

// Close releases the cached model client.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.clientKey = ""
	return err
}
