package falapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AccountBalance returns the fal.ai account balance in USD.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	body, err := c.do(ctx, http.MethodGet, c.billingURL, nil)
	if err != nil {
		return 0, fmt.Errorf("account balance fetch failed: %w", err)
	}

	// 接口直接返回一个 JSON 数字
	var balance float64
	if err := json.Unmarshal(body, &balance); err != nil {
		return 0, fmt.Errorf("failed to unmarshal account balance: %w, body: %s", err, string(body))
	}
	return balance, nil
}
