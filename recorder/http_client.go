package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the reference Recorder implementation: it POSTs a build
// request to an external recording service over HTTP, with the same
// exponential-backoff retry behavior the teacher's generic HTTP executor
// used for transient failures.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	retryCount int
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// NewHTTPClient builds a Recorder that talks to an external recording
// service over HTTP.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCount: retries,
	}
}

type buildRequest struct {
	StartURL     string `json:"start_url"`
	ScenarioName string `json:"scenario_name"`
	SiteName     string `json:"site_name"`
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
	TaskID       string `json:"task_id"`
}

type buildResponse struct {
	Success        bool   `json:"success"`
	PartialResult  string `json:"partial_result"`
	SiteCapability string `json:"site_capability"`
	Turns          int    `json:"turns"`
	Tokens         struct {
		Input  int `json:"input"`
		Output int `json:"output"`
		Total  int `json:"total"`
	} `json:"tokens"`
	SavedPath string `json:"saved_path"`
	Message   string `json:"message"`
}

// Build sends one build request, retrying transient (network/5xx) failures
// with exponential backoff. It never retries past ctx's deadline.
func (c *HTTPClient) Build(ctx context.Context, startURL, scenarioName string, opts Options) (*Result, error) {
	payload, err := json.Marshal(buildRequest{
		StartURL:     startURL,
		ScenarioName: scenarioName,
		SiteName:     opts.SiteName,
		SystemPrompt: opts.SystemPrompt,
		UserPrompt:   opts.UserPrompt,
		TaskID:       opts.TaskID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal build request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.doBuild(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("build failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *HTTPClient) doBuild(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("recorder service returned %d: %s", httpResp.StatusCode, string(body))
	}
	if httpResp.StatusCode >= 400 {
		return &Result{Success: false, Message: string(body)}, nil
	}

	var br buildResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, fmt.Errorf("decode build response: %w", err)
	}

	return &Result{
		Success:        br.Success,
		PartialResult:  br.PartialResult,
		SiteCapability: br.SiteCapability,
		Turns:          br.Turns,
		Tokens:         TokenUsage{Input: br.Tokens.Input, Output: br.Tokens.Output, Total: br.Tokens.Total},
		SavedPath:      br.SavedPath,
		Message:        br.Message,
	}, nil
}

// Close closes the HTTP client's idle keep-alive connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Factory returns a Factory that hands every caller the same underlying
// HTTPClient: it holds no per-task state, so there is nothing to
// recreate per call.
func (c *HTTPClient) Factory() Factory {
	return func() (Recorder, error) { return c, nil }
}
