package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StartRequest is the body of the execution-start call.
type StartRequest struct {
	// Task is the top-level instruction handed to the backend
	Task string `json:"task"`

	// Input carries optional structured parameters
	Input map[string]interface{} `json:"input,omitempty"`
}

// StartResponse is the backend's answer to an execution-start call.
type StartResponse struct {
	// ExecutionID identifies the started execution; it scopes the
	// frame stream
	ExecutionID string `json:"execution_id"`
}

// Launcher performs the companion request/response call that starts an
// execution and derives the stream endpoint for it.
type Launcher struct {
	baseURL string
	client  *http.Client
}

// NewLauncher creates a launcher against the backend's base URL, e.g.
// "http://localhost:8090".
func NewLauncher(baseURL string) *Launcher {
	return &Launcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start launches an execution and returns its id.
func (l *Launcher) Start(ctx context.Context, req StartRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.baseURL+"/api/v1/executions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("start execution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("start execution: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if out.ExecutionID == "" {
		return "", fmt.Errorf("start response missing execution_id")
	}
	return out.ExecutionID, nil
}

// StreamURL returns the WebSocket endpoint for an execution's frame stream.
func (l *Launcher) StreamURL(executionID string) string {
	ws := l.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/api/v1/executions/" + executionID + "/stream"
}
