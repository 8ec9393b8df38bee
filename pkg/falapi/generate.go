package falapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoImage is returned when a completed request carries no image.
var ErrNoImage = errors.New("generation returned no image")

type GenerateRequest struct {
	Prompt              string  `json:"prompt"`
	ImageSize           string  `json:"image_size,omitempty"`
	NumInferenceSteps   int     `json:"num_inference_steps,omitempty"`
	GuidanceScale       float64 `json:"guidance_scale,omitempty"`
	NumImages           int     `json:"num_images,omitempty"`
	EnableSafetyChecker bool    `json:"enable_safety_checker"`
	OutputFormat        string  `json:"output_format,omitempty"`
}

// SubmitResponse is the queue's answer to a new request.
type SubmitResponse struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type StatusResponse struct {
	Status        string       `json:"status"` // IN_QUEUE, IN_PROGRESS, COMPLETED, FAILED
	QueuePosition *int         `json:"queue_position,omitempty"`
	Error         *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Message string `json:"message"`
}

type GenerateResponse struct {
	Images          []ImageInfo `json:"images"`
	Seed            uint64      `json:"seed"`
	HasNsfwConcepts []bool      `json:"has_nsfw_concepts"`
	Prompt          string      `json:"prompt"`
}

type ImageInfo struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Submit queues a generation request.
func (c *Client) Submit(ctx context.Context, prompt string) (*SubmitResponse, error) {
	payload := GenerateRequest{
		Prompt:              prompt,
		ImageSize:           c.settings.ImageSize,
		NumInferenceSteps:   c.settings.NumInferenceSteps,
		GuidanceScale:       c.settings.GuidanceScale,
		NumImages:           1,
		EnableSafetyChecker: true,
		OutputFormat:        "png",
	}
	body, err := c.do(ctx, http.MethodPost, c.imageEndpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("generation submission failed: %w", err)
	}

	var resp SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission response: %w, body: %s", err, string(body))
	}
	if resp.RequestID == "" {
		return nil, fmt.Errorf("request_id not found in submission response: %s", string(body))
	}
	base := strings.TrimSuffix(c.imageEndpoint, "/") + "/requests/" + resp.RequestID
	if resp.StatusURL == "" {
		resp.StatusURL = base + "/status"
	}
	if resp.ResponseURL == "" {
		resp.ResponseURL = base
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context, statusURL string) (*StatusResponse, error) {
	body, err := c.do(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		var apiErr *APIError
		var statusResp StatusResponse
		if errors.As(err, &apiErr) && json.Unmarshal(body, &statusResp) == nil && statusResp.Error != nil {
			return nil, fmt.Errorf("status check failed: %s: %w", statusResp.Error.Message, err)
		}
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status response: %w, body: %s", err, string(body))
	}
	return &resp, nil
}

func (c *Client) Result(ctx context.Context, responseURL string) (*GenerateResponse, error) {
	body, err := c.do(ctx, http.MethodGet, responseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("result fetch failed: %w", err)
	}
	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generation result: %w, body: %s", err, string(body))
	}
	return &resp, nil
}

// Poll waits for a submitted request to finish and returns its result.
func (c *Client) Poll(ctx context.Context, sub *SubmitResponse) (*GenerateResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling stopped for request %s: %w", sub.RequestID, ctx.Err())
		case <-ticker.C:
			st, err := c.Status(ctx, sub.StatusURL)
			if err != nil {
				return nil, fmt.Errorf("error polling status for %s: %w", sub.RequestID, err)
			}
			c.logger.Debug("Polling status for request", zap.String("request_id", sub.RequestID), zap.String("status", st.Status))

			switch st.Status {
			case "COMPLETED":
				return c.Result(ctx, sub.ResponseURL)
			case "FAILED":
				msg := "generation failed"
				if st.Error != nil {
					msg = "generation failed: " + st.Error.Message
				}
				return nil, fmt.Errorf("%s (request_id: %s)", msg, sub.RequestID)
			case "IN_PROGRESS", "IN_QUEUE":
				continue
			default:
				return nil, fmt.Errorf("unknown status '%s' for request %s", st.Status, sub.RequestID)
			}
		}
	}
}

// GenerateImage submits a prompt, waits for it and returns the first image URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	sub, err := c.Submit(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.logger.Info("generation submitted", zap.String("request_id", sub.RequestID))

	res, err := c.Poll(ctx, sub)
	if err != nil {
		return "", err
	}
	if len(res.Images) == 0 || res.Images[0].URL == "" {
		return "", fmt.Errorf("%w (request_id: %s)", ErrNoImage, sub.RequestID)
	}
	return res.Images[0].URL, nil
}
