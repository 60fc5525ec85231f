// Package rewrite defines the text-rewriting collaborator used by the planner
// and a client for a llama.cpp completion server.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Rewriter produces rewritten text for a prompt within an output budget.
type Rewriter interface {
	Rewrite(ctx context.Context, prompt string, maxOutput int) (string, error)
}

// Func adapts a function to the Rewriter interface.
type Func func(ctx context.Context, prompt string, maxOutput int) (string, error)

// Rewrite calls f.
func (f Func) Rewrite(ctx context.Context, prompt string, maxOutput int) (string, error) {
	return f(ctx, prompt, maxOutput)
}

const (
	DefaultURL        = "http://127.0.0.1:8080/completion"
	DefaultCtxLimit   = 4096
	DefaultMaxRetries = 2
	DefaultTimeout    = 120 * time.Second

	temperature = 0.2
	topP        = 0.9
)

var stopTokens = []string{"<|eot_id|>", "<|end_of_text|>"}

// ApproxTokens estimates tokens as one per four characters.
func ApproxTokens(s string) int {
	if s == "" {
		return 0
	}
	return max(1, len(s)/4)
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

type completionResponse struct {
	Content    string `json:"content"`
	Completion string `json:"completion"`
}

// LlamaClient talks to a llama.cpp /completion endpoint.
type LlamaClient struct {
	url        string
	ctxLimit   int
	maxRetries int
	httpClient *http.Client
	backOff    func() backoff.BackOff
	logger     logrus.FieldLogger
}

// ClientOption configures a LlamaClient.
type ClientOption func(*LlamaClient)

// WithURL sets the completion endpoint.
func WithURL(url string) ClientOption {
	return func(c *LlamaClient) {
		if url != "" {
			c.url = url
		}
	}
}

// WithContextLimit sets the server context window in tokens.
func WithContextLimit(n int) ClientOption {
	return func(c *LlamaClient) {
		if n > 0 {
			c.ctxLimit = n
		}
	}
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) ClientOption {
	return func(c *LlamaClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *LlamaClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *LlamaClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBackOff replaces the retry schedule factory.
func WithBackOff(f func() backoff.BackOff) ClientOption {
	return func(c *LlamaClient) {
		c.backOff = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *LlamaClient) {
		c.logger = logger
	}
}

// NewLlamaClient creates a client with the defaults overridden by opts.
func NewLlamaClient(opts ...ClientOption) *LlamaClient {
	c := &LlamaClient{
		url:        DefaultURL,
		ctxLimit:   DefaultCtxLimit,
		maxRetries: DefaultMaxRetries,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 1500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rewrite sends prompt to the server and returns the stripped completion.
func (c *LlamaClient) Rewrite(ctx context.Context, prompt string, maxOutput int) (string, error) {
	if used := ApproxTokens(prompt) + maxOutput; used > c.ctxLimit {
		return "", fmt.Errorf("%w: %w: %d > %d", ErrUnavailable, ErrContextOverflow, used, c.ctxLimit)
	}

	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		NPredict:    maxOutput,
		Temperature: temperature,
		TopP:        topP,
		Stop:        stopTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		out, err := c.post(ctx, body)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"url":     c.url,
			}).WithError(err).Debug("rewrite attempt failed")
		}
		return out, err
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(uint(c.maxRetries+1)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return text, nil
}

func (c *LlamaClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", c.url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var out completionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := out.Content
	if text == "" {
		text = out.Completion
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
