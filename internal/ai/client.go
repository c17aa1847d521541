package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrServiceUnavailable is returned once the bounded retry budget for a
// reasoning-service call is exhausted. It is distinct from an invalid-output
// error: the caller failed to reach the service at all.
var ErrServiceUnavailable = errors.New("reasoning service unavailable")

// RetryPolicy bounds transport-level retries for one call.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Client struct {
	APIKey  string
	Model   string
	BaseURL string

	HTTPClient *http.Client
	Retry      RetryPolicy

	// SoftTimeout does not cancel a call; exceeding it is logged as a
	// performance warning.
	SoftTimeout time.Duration
}

func New(apiKey, model, baseURL string) *Client {
	return &Client{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		Retry: RetryPolicy{
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
		},
		SoftTimeout: 10 * time.Second,
	}
}

// CallOptions adjust one generation call. A validation-failure retry passes
// a lower temperature and Strict=true so the model is re-asked with a
// schema reminder.
type CallOptions struct {
	Temperature float64
	MaxTokens   int
	Strict      bool
}

const strictReminder = "\n\nIMPORTANT: your previous output failed schema validation. " +
	"Output ONLY one valid JSON object matching the required schema. No prose, no markdown fences."

// Complete sends one system+user prompt pair to the chat completions
// endpoint and returns the assistant message body as raw JSON.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (json.RawMessage, error) {
	if opts.Strict {
		userPrompt += strictReminder
	}

	reqBody := map[string]interface{}{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     opts.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	if opts.MaxTokens > 0 {
		reqBody["max_tokens"] = opts.MaxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := c.doWithRetry(ctx, payload)
	if elapsed := time.Since(started); c.SoftTimeout > 0 && elapsed > c.SoftTimeout {
		log.Printf("[WARN] reasoning call exceeded soft timeout elapsed_ms=%d budget_ms=%d",
			elapsed.Milliseconds(), c.SoftTimeout.Milliseconds())
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) doWithRetry(ctx context.Context, payload []byte) (json.RawMessage, error) {
	attempts := c.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := c.Retry.Backoff * time.Duration(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			log.Printf("[WARN] reasoning call retry attempt=%d", attempt)
		}

		raw, retryable, err := c.doOnce(ctx, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, payload []byte) (raw json.RawMessage, retryable bool, err error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.BaseURL+"/v1/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		// transport errors are retryable unless the context is gone
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, true, err
	}

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return nil, true, fmt.Errorf("status %d: %s", res.StatusCode, truncate(body, 200))
	}
	if res.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("status %d: %s", res.StatusCode, truncate(body, 200))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("malformed completion response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, false, fmt.Errorf("completion returned no content")
	}

	return json.RawMessage(parsed.Choices[0].Message.Content), false, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
