// Package indexclient requests sequential worker indexes from the index-allocation service.
package indexclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yarrow/pkg/constants"
	"yarrow/pkg/logger"
)

// Client index-allocation service client
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the service at host ("host:port" or a full URL)
func NewClient(host string) *Client {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return &Client{
		baseURL: strings.TrimRight(host, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NextID allocates the next index of session. An empty session selects the default session
// and an empty vmid is omitted.
func (c *Client) NextID(ctx context.Context, session, vmid string) (int64, error) {
	query := url.Values{}
	if session != "" {
		query.Set(constants.IndexParamSession, session)
	}
	if vmid != "" {
		query.Set(constants.IndexParamVMID, vmid)
	}
	target := c.baseURL + constants.IndexPathNextID
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("invalid content-type: expected application/json but received %q", ct)
	}

	var body struct {
		ID *int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.ID == nil {
		return 0, fmt.Errorf("response has no id")
	}
	return *body.ID, nil
}

// NextIDOrZero is NextID with any failure logged and mapped to index 0
func (c *Client) NextIDOrZero(ctx context.Context, session, vmid string) int64 {
	id, err := c.NextID(ctx, session, vmid)
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to get next id from %s, using 0: %v", c.baseURL, err)
		return 0
	}
	return id
}
