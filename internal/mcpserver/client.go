package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Wardflow platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// WardflowClient is a pure HTTP client for the Wardflow platform API.
type WardflowClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewWardflowClient creates a new client for the Wardflow platform.
func NewWardflowClient(cfg Config) *WardflowClient {
	return &WardflowClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *WardflowClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// StartSession starts a new analysis session against a dataset.
func (c *WardflowClient) StartSession(ctx context.Context, datasetHandle string) (json.RawMessage, error) {
	body := map[string]string{"datasetHandle": datasetHandle}
	return c.doRequest(ctx, http.MethodPost, "/v1/sessions", nil, body)
}

// SendMessage sends a free-text message to a session.
func (c *WardflowClient) SendMessage(ctx context.Context, sessionID, message string) (json.RawMessage, error) {
	path := "/v1/sessions/" + sessionID + "/messages"
	body := map[string]string{"message": message}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// GetSession returns the current state of a session.
func (c *WardflowClient) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, nil)
}

// DeleteSession ends and removes a session.
func (c *WardflowClient) DeleteSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil)
}

// UploadDataset uploads facility records as a named dataset.
func (c *WardflowClient) UploadDataset(ctx context.Context, name string, records json.RawMessage) (json.RawMessage, error) {
	body := map[string]any{
		"name":    name,
		"records": records,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/datasets", nil, body)
}

// ListDatasets lists uploaded datasets.
func (c *WardflowClient) ListDatasets(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/datasets", nil, nil)
}

// GetDataset returns a dataset's summary.
func (c *WardflowClient) GetDataset(ctx context.Context, handle string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/datasets/"+handle, nil, nil)
}
