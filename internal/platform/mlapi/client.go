package mlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/animus-labs/mlpipe/internal/platform/requestid"
	"github.com/animus-labs/mlpipe/internal/workspace"
)

const APIVersion = "2024-10-01"

var (
	ErrNotFound      = errors.New("platform resource not found")
	ErrConflict      = errors.New("platform resource conflict")
	ErrUnauthorized  = errors.New("platform request unauthorized")
	ErrForbidden     = errors.New("platform request forbidden")
	ErrUnexpectedAPI = errors.New("platform unexpected response")
)

// APIError carries the platform's error payload. Err is set for the status
// codes that have a sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	prefix := fmt.Sprintf("platform api error (status=%d", e.StatusCode)
	if e.Code != "" {
		prefix += ", code=" + e.Code
	}
	if e.RequestID != "" {
		prefix += ", request_id=" + e.RequestID
	}
	prefix += ")"
	if msg == "" {
		return prefix
	}
	return prefix + ": " + msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL   string
	workspace workspace.Config
	http      *http.Client
}

type Options struct {
	Timeout   time.Duration
	Transport http.RoundTripper
}

// New returns a client scoped to cfg's workspace. Every request is
// authorised with a token from ts.
func New(cfg workspace.Config, ts oauth2.TokenSource, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, errors.New("token source is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	base := &http.Client{Transport: opts.Transport}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	httpClient := oauth2.NewClient(context.WithValue(context.Background(), oauth2.HTTPClient, base), ts)
	httpClient.Timeout = opts.Timeout

	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		workspace: cfg,
		http:      httpClient,
	}, nil
}

func (c *Client) Workspace() workspace.Config {
	return c.workspace
}

func (c *Client) resourceGroupPath() string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/MLPlatform",
		url.PathEscape(c.workspace.SubscriptionID), url.PathEscape(c.workspace.ResourceGroup))
}

func (c *Client) workspacePath(elem ...string) string {
	path := c.resourceGroupPath() + "/workspaces/" + url.PathEscape(c.workspace.WorkspaceName)
	for _, e := range elem {
		path += "/" + url.PathEscape(e)
	}
	return path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?api-version="+APIVersion, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if req == nil {
		return errors.New("request is required")
	}
	id := requestid.FromContext(req.Context())
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestid.Header, id)
	req.Header.Set("User-Agent", "mlpipe")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnexpectedAPI, err)
		}
		return nil
	case http.StatusNoContent:
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: id, Body: string(body)}
	var payload errorPayload
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code, apiErr.Message = payload.Error.Code, payload.Error.Message
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		apiErr.Err = ErrNotFound
	case http.StatusConflict:
		apiErr.Err = ErrConflict
	case http.StatusUnauthorized:
		apiErr.Err = ErrUnauthorized
	case http.StatusForbidden:
		apiErr.Err = ErrForbidden
	}
	return apiErr
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
