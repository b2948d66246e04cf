package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// DefaultCallTimeout bounds one full Execute call, retries included.
const DefaultCallTimeout = 10 * time.Second

// HTTPExecutor invokes the rule-evaluation boundary over HTTP. Transient
// failures (network errors, 5xx responses) are retried with exponential
// backoff and jitter; 4xx responses are definitive rejections and surface
// immediately. A call that cannot complete before the configured deadline
// reports StatusFailed with a timeout reason and zero updates — a late remote
// result is discarded, never applied.
type HTTPExecutor struct {
	endpoint   string
	httpClient *http.Client
	retry      RetryConfig
	timeout    time.Duration
	tokenFunc  func() string
	logger     logr.Logger
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithRetryConfig overrides the retry budget.
func WithRetryConfig(cfg RetryConfig) HTTPOption {
	return func(e *HTTPExecutor) { e.retry = cfg }
}

// WithCallTimeout overrides the overall per-call deadline.
func WithCallTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExecutor) { e.timeout = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExecutor) { e.httpClient = c }
}

// WithTokenFunc supplies a bearer token for the rule-engine endpoint.
func WithTokenFunc(f func() string) HTTPOption {
	return func(e *HTTPExecutor) { e.tokenFunc = f }
}

// NewHTTPExecutor creates an executor targeting the given endpoint.
func NewHTTPExecutor(endpoint string, logger logr.Logger, opts ...HTTPOption) *HTTPExecutor {
	e := &HTTPExecutor{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		retry:      DefaultRetryConfig,
		timeout:    DefaultCallTimeout,
		logger:     logger.WithName("function-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends the action to the rule engine and returns its structured
// result.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (*FunctionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal function request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(e.retry, attempt-1)
			e.logger.V(1).Info("retrying function call",
				"actionID", req.ID, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return e.timedOut(req), nil
			case <-time.After(delay):
			}
		}

		result, retryable, err := e.call(ctx, req, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if ctx.Err() != nil {
			return e.timedOut(req), nil
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || ctx.Err() != nil {
		return e.timedOut(req), nil
	}

	e.logger.Info("function call failed after retries", "actionID", req.ID, "error", lastErr)
	return &FunctionResult{
		ID:            req.ID,
		Status:        StatusFailed,
		FailureReason: ReasonUnavailable,
	}, nil
}

// call performs a single attempt. The second return reports whether the
// failure is transient.
func (e *HTTPExecutor) call(ctx context.Context, req Request, body []byte) (*FunctionResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.tokenFunc != nil {
		if token := e.tokenFunc(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("function call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("function boundary returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Definitive rejection: malformed payload or unknown action type.
		respBody, _ := io.ReadAll(resp.Body)
		e.logger.Info("function call rejected",
			"actionID", req.ID, "status", resp.StatusCode, "body", string(respBody))
		return &FunctionResult{
			ID:            req.ID,
			Status:        StatusFailed,
			FailureReason: ReasonRejected,
		}, false, nil
	}

	var result FunctionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, true, fmt.Errorf("failed to decode function result: %w", err)
	}
	if result.ID == "" {
		result.ID = req.ID
	}
	return &result, false, nil
}

func (e *HTTPExecutor) timedOut(req Request) *FunctionResult {
	e.logger.Info("function call deadline exceeded", "actionID", req.ID)
	return &FunctionResult{
		ID:            req.ID,
		Status:        StatusFailed,
		FailureReason: ReasonTimeout,
	}
}
