// Package abook is the HTTP client for the external liquidity bridge that
// A-Book trading profiles route their positions to.
package abook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rustyeddy/trading-executor/broker"
)

const positionsPath = "/v1/positions"

// Client represents a liquidity bridge API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ broker.LiquidityBridge = (*Client)(nil)

// NewClient creates a bridge client. A zero timeout means 10 seconds.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// openResponse is the bridge's answer to an open request. Status 0 is
// success; anything else is a venue rejection.
type openResponse struct {
	Status   int32                  `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Position *broker.BridgePosition `json:"position,omitempty"`
}

// OpenPosition places the position on the venue. A venue rejection is
// returned as *broker.BridgeRejectError; any other error is transport.
func (c *Client) OpenPosition(ctx context.Context, req broker.BridgeOpenRequest) (broker.BridgePosition, error) {
	if req.InstrumentID == "" {
		return broker.BridgePosition{}, fmt.Errorf("instrument is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return broker.BridgePosition{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+positionsPath, bytes.NewReader(body))
	if err != nil {
		return broker.BridgePosition{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return broker.BridgePosition{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return broker.BridgePosition{}, fmt.Errorf("bridge API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out openResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return broker.BridgePosition{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Status != 0 {
		return broker.BridgePosition{}, &broker.BridgeRejectError{StatusCode: out.Status, Message: out.Message}
	}
	if out.Position == nil {
		return broker.BridgePosition{}, fmt.Errorf("decode response: missing position")
	}
	return *out.Position, nil
}
