package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"copytrader-go/internal/copytrade"
	"copytrader-go/internal/signal"
)

// apiClient talks to the copytrader HTTP API.
type apiClient struct {
	base     string
	username string
	password string
	http     *http.Client
}

func newAPIClient(base, username, password string) *apiClient {
	return &apiClient{
		base:     strings.TrimRight(base, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage pulls "message" or "error" out of a JSON error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

type startResult struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Status  copytrade.Status `json:"status"`
}

func (c *apiClient) Start(ctx context.Context, cfg copytrade.Config) (startResult, error) {
	var out startResult
	err := c.do(ctx, http.MethodPost, "/api/copy/start", cfg, &out)
	return out, err
}

func (c *apiClient) Stop(ctx context.Context) (copytrade.StopResult, error) {
	var out copytrade.StopResult
	err := c.do(ctx, http.MethodPost, "/api/copy/stop", nil, &out)
	return out, err
}

func (c *apiClient) Status(ctx context.Context) (copytrade.Status, error) {
	var out copytrade.Status
	err := c.do(ctx, http.MethodGet, "/api/copy/status", nil, &out)
	return out, err
}

func (c *apiClient) Statistics(ctx context.Context) (copytrade.Statistics, error) {
	var out copytrade.Statistics
	err := c.do(ctx, http.MethodGet, "/api/copy/statistics", nil, &out)
	return out, err
}

func (c *apiClient) Traders(ctx context.Context) ([]copytrade.TraderInfo, error) {
	var out struct {
		Traders []copytrade.TraderInfo `json:"traders"`
	}
	err := c.do(ctx, http.MethodGet, "/api/copy/traders", nil, &out)
	return out.Traders, err
}

func (c *apiClient) Signals(ctx context.Context) ([]signal.Signal, error) {
	var out struct {
		Signals []signal.Signal `json:"signals"`
	}
	err := c.do(ctx, http.MethodGet, "/api/signals", nil, &out)
	return out.Signals, err
}
