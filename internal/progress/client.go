package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// APIError is a non-2xx reply from the progress backend
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("progress API error (status %d): %s", e.StatusCode, e.Detail)
}

// Update is the body of POST /progress
type Update struct {
	UserID     string `json:"user_id"`
	LessonID   string `json:"lesson_id"`
	Status     string `json:"status"`
	XPEarned   int    `json:"xp_earned"`
	GemsEarned int    `json:"gems_earned"`
}

// Entry is a recorded update as returned by the backend
type Entry struct {
	Update
	RecordedAt string `json:"recorded_at"`
}

// ClientConfig configures the REST client
type ClientConfig struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
}

// Client syncs completions with the progress REST backend. The backend
// scopes every call to the user behind the bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retrier retry.Retry[[]byte]
}

// NewClient creates a progress API client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		retrier: retry.New[[]byte](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   isRetryable,
		}),
	}
}

// Record posts the completion as a progress update
func (c *Client) Record(ctx context.Context, completion domain.Completion) error {
	body, err := json.Marshal(Update{
		UserID:     completion.UserID,
		LessonID:   completion.LessonID,
		Status:     string(completion.Status),
		XPEarned:   completion.XPEarned,
		GemsEarned: completion.GemsEarned,
	})
	if err != nil {
		return fmt.Errorf("marshal progress update: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/progress", body); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// List returns the recorded progress of the token's user. A non-empty
// userID filters the entries.
func (c *Client) List(ctx context.Context, userID string) ([]domain.Completion, error) {
	data, err := c.do(ctx, http.MethodGet, "/progress", nil)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}

	completions := make([]domain.Completion, 0, len(entries))
	for _, e := range entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		completions = append(completions, e.completion())
	}
	return completions, nil
}

func (e Entry) completion() domain.Completion {
	c := domain.Completion{
		UserID:     e.UserID,
		LessonID:   e.LessonID,
		Status:     domain.CompletionStatus(e.Status),
		XPEarned:   e.XPEarned,
		GemsEarned: e.GemsEarned,
	}
	// The backend writes naive UTC ISO timestamps.
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, e.RecordedAt); err == nil {
			c.RecordedAt = t.UTC()
			break
		}
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.retrier.Do(ctx, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{StatusCode: resp.StatusCode, Detail: detail(data)}
		}
		return data, nil
	})
}

// detail extracts the backend's error message, falling back to a generic one.
func detail(data []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "Request failed. Please try again."
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// Transport failures other than cancellation are worth another try.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
