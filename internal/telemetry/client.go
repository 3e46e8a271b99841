package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hotplugd/internal/hotplug"
)

// APIError is a non-2xx response from the daemon
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hotplugd API returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running daemon
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL)
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultListenAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches the controller snapshot
func (c *Client) Status(ctx context.Context) (hotplug.Snapshot, error) {
	var snap hotplug.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/status", nil, "", &snap)
	return snap, err
}

// Counters fetches per-cpu hotplug counters
func (c *Client) Counters(ctx context.Context) (map[int]uint64, error) {
	var resp countersResponse
	if err := c.do(ctx, http.MethodGet, "/api/counters", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Counters, nil
}

// Knobs fetches every knob
func (c *Client) Knobs(ctx context.Context) (map[string]string, error) {
	var knobs map[string]string
	err := c.do(ctx, http.MethodGet, "/api/tunables", nil, "", &knobs)
	return knobs, err
}

// Knob fetches one knob
func (c *Client) Knob(ctx context.Context, name string) (string, error) {
	var resp map[string]string
	if err := c.do(ctx, http.MethodGet, "/api/tunables/"+url.PathEscape(name), nil, "", &resp); err != nil {
		return "", err
	}
	return resp[name], nil
}

// SetKnob writes one knob and returns the stored value
func (c *Client) SetKnob(ctx context.Context, name, value string) (string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodPut, "/api/tunables/"+url.PathEscape(name), strings.NewReader(value), "text/plain", &resp)
	if err != nil {
		return "", err
	}
	return resp[name], nil
}

// SetEnabled switches the control loop
func (c *Client) SetEnabled(ctx context.Context, enabled bool) error {
	body, err := json.Marshal(enabledRequest{Enabled: &enabled})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/enabled", bytes.NewReader(body), "application/json", nil)
}

// Display sends a screen on/off event
func (c *Client) Display(ctx context.Context, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	return c.do(ctx, http.MethodPost, "/api/display/"+state, nil, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach hotplugd at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr["error"]}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
