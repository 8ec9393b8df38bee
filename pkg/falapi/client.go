package falapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultBillingURL = "https://rest.alpha.fal.ai/billing/user_balance"

// ImageSettings are the generation parameters sent with every image request.
type ImageSettings struct {
	ImageSize         string
	NumInferenceSteps int
	GuidanceScale     float64
}

type Options struct {
	APIKey          string
	ImageEndpoint   string // queue endpoint, e.g. https://queue.fal.run/fal-ai/flux/dev
	CaptionEndpoint string // synchronous endpoint, e.g. https://fal.run/fal-ai/florence-2-large/more-detailed-caption
	BillingURL      string
	Settings        ImageSettings
	PollInterval    time.Duration
	HTTPClient      *http.Client
}

type Client struct {
	apiKey          string
	imageEndpoint   string
	captionEndpoint string
	billingURL      string
	settings        ImageSettings
	pollInterval    time.Duration
	httpClient      *http.Client
	logger          *zap.Logger
}

// APIError is a non-2xx answer from fal.ai.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal API request failed with status %d: %s", e.StatusCode, e.Body)
}

func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("fal api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 120 * time.Second} // API 可能耗时较长
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BillingURL == "" {
		opts.BillingURL = defaultBillingURL
	}
	return &Client{
		apiKey:          opts.APIKey,
		imageEndpoint:   opts.ImageEndpoint,
		captionEndpoint: opts.CaptionEndpoint,
		billingURL:      opts.BillingURL,
		settings:        opts.Settings,
		pollInterval:    opts.PollInterval,
		httpClient:      opts.HTTPClient,
		logger:          logger,
	}, nil
}

// do 执行请求并返回响应体，payload 为 nil 时不发送请求体
func (c *Client) do(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send request", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("API request failed", zap.String("url", url), zap.Int("status", resp.StatusCode), zap.String("body", string(respBody)))
		return respBody, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Debug("API request successful", zap.String("url", url), zap.Int("status", resp.StatusCode))
	return respBody, nil
}
