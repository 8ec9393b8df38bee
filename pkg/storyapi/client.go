package storyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the storyboard backend: generation endpoints plus the points ledger.
// Generation endpoints use the token bound with WithToken; ledger calls take the token explicitly.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second // 生成图片可能耗时较长
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithToken returns a copy of the client that sends token as the bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// BreakdownStory returns the raw body of a 2xx breakdown response. Decoding is left to the caller.
func (c *Client) BreakdownStory(ctx context.Context, story string) ([]byte, error) {
	return c.do(ctx, "breakdown", http.MethodPost, "/api/breakdown-story", c.token, BreakdownRequest{Story: story})
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	body, err := c.do(ctx, "generate image", http.MethodPost, "/api/generate-image", c.token, GenerateImageRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	var resp GenerateImageResponse
	if err := decode(body, &resp); err != nil {
		return "", err
	}
	return resp.ImageURL, nil
}

func (c *Client) AnalyzeCharacter(ctx context.Context, imageBase64 string) (string, error) {
	body, err := c.do(ctx, "analyze character", http.MethodPost, "/api/analyze-character", c.token, AnalyzeCharacterRequest{ImageBase64: imageBase64})
	if err != nil {
		return "", err
	}
	var resp AnalyzeCharacterResponse
	if err := decode(body, &resp); err != nil {
		return "", err
	}
	return resp.Analysis, nil
}

func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	if token == "" {
		return nil, ErrAuthRequired
	}
	body, err := c.do(ctx, "profile", http.MethodGet, "/api/user/profile", token, nil)
	if err != nil {
		return nil, err
	}
	var resp Profile
	if err := decode(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deduct asks the server to atomically subtract amount points and returns the remaining balance.
func (c *Client) Deduct(ctx context.Context, token string, amount int) (int, error) {
	if token == "" {
		return 0, ErrAuthRequired
	}
	body, err := c.do(ctx, "deduct", http.MethodPost, "/api/generate", token, DeductRequest{Amount: amount})
	if err != nil {
		return 0, err
	}
	var resp DeductResponse
	if err := decode(body, &resp); err != nil {
		return 0, err
	}
	if resp.RemainingPoints == nil {
		return 0, fmt.Errorf("%w: remaining_points missing", ErrMalformedResponse)
	}
	return *resp.RemainingPoints, nil
}

func (c *Client) CreateCheckout(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrAuthRequired
	}
	body, err := c.do(ctx, "checkout", http.MethodPost, "/api/create-checkout-session", token, struct{}{})
	if err != nil {
		return "", err
	}
	var resp CheckoutResponse
	if err := decode(body, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: checkout url missing", ErrMalformedResponse)
	}
	return resp.URL, nil
}

// 内部方法用于执行请求，并把失败映射为错误分类
func (c *Client) do(ctx context.Context, op, method, path, token string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthRequired
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, ErrInsufficientCredits
	case resp.StatusCode >= 300:
		msg := errorMessage(body)
		c.logger.Warn("API request failed", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	c.logger.Debug("API request successful", zap.String("op", op), zap.Int("status", resp.StatusCode))
	return body, nil
}

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// errorMessage prefers details over error.
func errorMessage(body []byte) string {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Details != "" {
			return eb.Details
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
