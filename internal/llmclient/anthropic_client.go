// File: internal/llmclient/anthropic_client.go
// Package llmclient talks to the Anthropic Messages API to validate and
// regenerate step narration against the step's screenshot.
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/config"
)

const anthropicVersion = "2023-06-01"

var _ schemas.VisionClient = (*AnthropicClient)(nil)

// AnthropicClient implements the schemas.VisionClient interface for the
// Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	config     config.LLMConfig
}

// -- Anthropic API Request/Response Structures (Internal to this file) --

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequestPayload struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponsePayload struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicClient initializes the client.
func NewAnthropicClient(cfg config.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &AnthropicClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.Named("llm_client.anthropic"),
	}, nil
}

// ValidateStep sends the step's screenshot plus its current narration to the
// model and returns the corrected (or freshly generated) narration.
func (c *AnthropicClient) ValidateStep(ctx context.Context, req schemas.ValidationRequest) (*schemas.ValidationResponse, error) {
	imageData, err := os.ReadFile(req.ScreenshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot %s: %w", req.ScreenshotPath, err)
	}

	payload := c.buildRequestPayload(req, imageData)
	raw, usage, err := c.send(ctx, payload)

	resp := &schemas.ValidationResponse{
		TaskID:              req.TaskID,
		StepNumber:          req.StepNumber,
		StepKey:             req.StepKey,
		OriginalObservation: req.Observation,
		OriginalThought:     req.Thought,
		ScreenshotPath:      req.ScreenshotPath,
		Timestamp:           time.Now().UTC(),
		TokensUsed:          &usage,
	}
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}

	outcome := ParseNarration(raw)
	switch outcome.Kind {
	case ParseUnparseable:
		// Keep the original narration and surface the raw head so the run
		// report shows what the model actually said.
		c.logger.Warn("Model output unparseable, keeping original narration",
			zap.String("step", req.StepKey))
		resp.Error = "unparseable model output"
		resp.UpdatedObservation = req.Observation
		resp.UpdatedThought = req.Thought
		resp.ValidationReasoning = "unparseable model output: " + truncate(outcome.Raw, contextTruncateLimit)
		return resp, nil
	case ParseRecovered:
		c.logger.Warn("Model output recovered via fallback parsing",
			zap.String("step", req.StepKey), zap.String("reason", outcome.Reason))
	}

	resp.Success = true
	resp.UpdatedObservation = outcome.Record.Observation
	resp.UpdatedThought = outcome.Record.Thought
	resp.ValidationReasoning = outcome.Record.Reasoning
	return resp, nil
}

// send posts the payload with rate limiting and retries on transient errors.
func (c *AnthropicClient) send(ctx context.Context, payload anthropicRequestPayload) (string, schemas.TokenUsage, error) {
	var usage schemas.TokenUsage

	body, err := json.Marshal(payload)
	if err != nil {
		return "", usage, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload anthropicResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("anthropic API returned no content blocks (stop_reason: %s)", responsePayload.StopReason))
		}

		usage = schemas.TokenUsage{
			InputTokens:  responsePayload.Usage.InputTokens,
			OutputTokens: responsePayload.Usage.OutputTokens,
		}

		c.logger.Info("LLM validation complete (Anthropic)",
			zap.Duration("duration", duration),
			zap.Int("input_tokens", usage.InputTokens),
			zap.Int("output_tokens", usage.OutputTokens),
		)

		responseContent = responsePayload.Content[0].Text
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", usage, err
	}

	return responseContent, usage, nil
}

func (c *AnthropicClient) buildRequestPayload(req schemas.ValidationRequest, imageData []byte) anthropicRequestPayload {
	content := []anthropicContentBlock{
		{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: sniffMediaType(imageData),
				Data:      base64.StdEncoding.EncodeToString(imageData),
			},
		},
		{Type: "text", Text: BuildUserPrompt(req)},
	}

	return anthropicRequestPayload{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      systemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: content},
		},
	}
}

// sniffMediaType detects the screenshot's content type, defaulting to PNG
// when detection yields a non-image type.
func sniffMediaType(data []byte) string {
	if mt := http.DetectContentType(data); strings.HasPrefix(mt, "image/") {
		return mt
	}
	return "image/png"
}

func (c *AnthropicClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Anthropic API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("anthropic API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable, 529:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}
