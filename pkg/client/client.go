package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/playmesh-dev/playmesh/go/pkg/app/errors"
)

// Client talks to the session-server HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokenFunc  func() string // Function to get current token
}

// New creates a client for the given base URL. tokenFunc may be nil.
func New(baseURL string, tokenFunc func() string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		tokenFunc:  tokenFunc,
	}
}

func (c *Client) addAuthHeaders(req *http.Request) {
	if c.tokenFunc != nil {
		if token := c.tokenFunc(); token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		}
	}
}

// CreateSession establishes a new session.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &session,
		apperrors.ErrCodeSessionCreate, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches session metadata.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID, nil, &session,
		apperrors.ErrCodeSessionGet, http.StatusOK); err != nil {
		return nil, err
	}
	return &session, nil
}

// JoinSession refreshes a session lease and re-binds the device.
func (c *Client) JoinSession(ctx context.Context, sessionID, deviceID string) (*Session, error) {
	var session Session
	body := map[string]string{"device_id": deviceID}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/join", body, &session,
		apperrors.ErrCodeSessionJoin, http.StatusOK); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessionState fetches a point-in-time snapshot of session game state.
func (c *Client) GetSessionState(ctx context.Context, sessionID string) (map[string]map[string]interface{}, error) {
	var snapshot map[string]map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/state", nil, &snapshot,
		apperrors.ErrCodeStateGet, http.StatusOK); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// RemoveSession terminates a session.
func (c *Client) RemoveSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+sessionID, nil, nil,
		apperrors.ErrCodeSessionGet, http.StatusOK, http.StatusNoContent)
}

// SubmitAction runs one action through the pipeline and returns its outcome.
func (c *Client) SubmitAction(ctx context.Context, req *ActionRequest) (*ActionOutcome, error) {
	var outcome ActionOutcome
	if err := c.do(ctx, http.MethodPost, "/api/actions", req, &outcome,
		apperrors.ErrCodeActionSubmit, http.StatusOK); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	body, out interface{},
	errCode string,
	okStatuses ...int,
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.New(errCode, "failed to marshal request", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.New(errCode, "failed to create request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.addAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.New(errCode, "failed to send request", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		respBody, _ := io.ReadAll(resp.Body)
		return apperrors.New(errCode,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.New(errCode, "failed to decode response", err)
	}
	return nil
}
