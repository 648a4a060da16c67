package tasksapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
)

const DefaultBaseURL = "https://tasks.googleapis.com"

var (
	ErrNotFound      = errors.New("task not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTokenRequired = errors.New("access token is required")
)

// HTTPError is a non-2xx response from the tasks service.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Client is the part of the tasks service the document layer needs.
type Client interface {
	GetTask(ctx context.Context, listID, taskID string) (taskdoc.Record, error)
	PatchTask(ctx context.Context, listID, taskID string, update taskdoc.Update) error
}

type HTTPClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

type HTTPClient struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = 3
	case maxRetries < 0:
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

func (c *HTTPClient) GetTask(ctx context.Context, listID, taskID string) (taskdoc.Record, error) {
	var out taskdoc.Record
	err := c.doJSON(ctx, http.MethodGet, taskPath(listID, taskID), nil, &out)
	return out, err
}

func (c *HTTPClient) PatchTask(ctx context.Context, listID, taskID string, update taskdoc.Update) error {
	return c.doJSON(ctx, http.MethodPatch, taskPath(listID, taskID), update, nil)
}

func (c *HTTPClient) DeleteTask(ctx context.Context, listID, taskID string) error {
	return c.doJSON(ctx, http.MethodDelete, taskPath(listID, taskID), nil, nil)
}

func taskPath(listID, taskID string) string {
	return tasksPath(listID) + "/" + url.PathEscape(taskID)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	if c == nil {
		return fmt.Errorf("tasks http client is nil")
	}
	if c.tokenProvider == nil {
		return ErrTokenRequired
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenRequired
	}
	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	correlationID := uuid.NewString()
	// An insert that reached the service may have been applied; only a 429
	// guarantees it was not.
	idempotent := method != http.MethodPost

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && idempotent {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || (idempotent && resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return parseHTTPError(resp.StatusCode, payload)
	}
}

// parseHTTPError reads the Google API error envelope
// {"error": {"code": 404, "message": "...", "status": "NOT_FOUND"}}.
func parseHTTPError(statusCode int, payload []byte) *HTTPError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(payload))
	status := ""
	if json.Unmarshal(payload, &envelope) == nil {
		status = envelope.Error.Status
		if strings.TrimSpace(envelope.Error.Message) != "" {
			message = envelope.Error.Message
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &HTTPError{StatusCode: statusCode, Status: status, Message: message}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
