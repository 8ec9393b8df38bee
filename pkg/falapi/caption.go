package falapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type CaptionRequest struct {
	ImageURL string `json:"image_url"`
}

type CaptionResponse struct {
	Results string `json:"results"`
}

// Caption describes the image at imageURL, which may be a data: URI.
func (c *Client) Caption(ctx context.Context, imageURL string) (string, error) {
	if c.captionEndpoint == "" {
		return "", errors.New("caption endpoint is not configured")
	}
	body, err := c.do(ctx, http.MethodPost, c.captionEndpoint, CaptionRequest{ImageURL: imageURL})
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}

	var resp CaptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal caption result: %w, body: %s", err, string(body))
	}
	caption := strings.TrimSpace(resp.Results)
	if caption == "" {
		c.logger.Warn("caption result is empty")
	}
	return caption, nil
}
