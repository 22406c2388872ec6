// Package push delivers notifications to users who are not connected.
package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// GatewayRequest is the body accepted by the push gateway
type GatewayRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type gatewayResponse struct {
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// GatewayClient talks to the device push gateway (FCM/APNs relay) over HTTP
type GatewayClient struct {
	baseURL    string
	httpClient *resty.Client
}

// NewGatewayClient returns nil when baseURL is empty
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "campus-messaging-push/1.0").
		SetTimeout(timeout)
	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}

	return &GatewayClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (c *GatewayClient) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

// Send asks the gateway to push to every device of the user. It returns the
// number of devices reached.
func (c *GatewayClient) Send(ctx context.Context, req GatewayRequest) (int, error) {
	if !c.IsEnabled() {
		return 0, fmt.Errorf("push gateway client is not configured")
	}

	var resp gatewayResponse
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&resp).
		Post("/v1/push")
	if err != nil {
		return 0, fmt.Errorf("push gateway request failed: %w", err)
	}
	if httpResp.IsError() {
		return 0, fmt.Errorf("push gateway error (%d): %s", httpResp.StatusCode(), httpResp.String())
	}
	return resp.Delivered, nil
}
