// Package litellm implements the completion port against a LiteLLM proxy.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mvanek/agentswarm/internal/port/completion"
	"github.com/mvanek/agentswarm/internal/resilience"
)

// degradedPromptLimit truncates the prompt for the single retry after a
// transient failure, trading context for a higher chance of completion.
const degradedPromptLimit = 2000

// Client talks to the LiteLLM proxy chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a completion client for the given proxy URL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   "openai/gpt-4o-mini",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetModel overrides the default model routed through the proxy.
func (c *Client) SetModel(model string) {
	c.model = model
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	User     string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt and returns the raw completion text.
// On a transient failure it retries once with a truncated prompt; if that
// also fails it returns completion.ErrServiceUnavailable so callers degrade
// to a default solution instead of failing the task.
func (c *Client) Complete(ctx context.Context, agentID, prompt string) (string, error) {
	text, err := c.complete(ctx, agentID, prompt)
	if err == nil {
		return text, nil
	}
	if !transient(err) {
		return "", err
	}

	slog.Warn("completion failed, retrying with degraded prompt",
		"agent_id", agentID, "error", err)

	degraded := prompt
	if len(degraded) > degradedPromptLimit {
		degraded = degraded[:degradedPromptLimit]
	}
	text, err = c.complete(ctx, agentID, degraded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", completion.ErrServiceUnavailable, err)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, agentID, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		User:     agentID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	data, err := c.doRequest(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		// Empty responses are recoverable; the parsing layers upstream
		// handle them like any other garbled output.
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, fmt.Errorf("%w: %v", completion.ErrServiceUnavailable, err)
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

// transient reports whether err looks retryable: network trouble, timeout,
// or an open breaker.
func transient(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, completion.ErrServiceUnavailable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
