// Package remoteconfig fetches Remote Config templates over the Firebase
// Remote Config REST API.
package remoteconfig

import (
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
)

const (
	// DefaultBaseURL is the production Remote Config endpoint.
	DefaultBaseURL = "https://firebaseremoteconfig.googleapis.com"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "rcfunctions/remoteconfig"
	maxTemplateBytes = 10 << 20
)

// ErrFetchFailed is the single failure kind surfaced by GetTemplate. Every
// underlying cause (transport, auth, service, decoding) wraps it.
var ErrFetchFailed = errors.New("template fetch failed")

// Fetcher retrieves the current template.
type Fetcher interface {
	GetTemplate(ctx context.Context) (*Template, error)
}

// Options configures a Client.
type Options struct {
	ProjectID   string
	BaseURL     string
	HTTPClient  *http.Client
	TokenSource oauth2.TokenSource
	Timeout     time.Duration
	UserAgent   string
}

// Client talks to a single project's Remote Config resource.
type Client struct {
	endpoint  string
	client    *http.Client
	tokens    oauth2.TokenSource
	timeout   time.Duration
	userAgent string
}

// New validates options and returns a client.
func New(opts Options) (*Client, error) {
	project := strings.TrimSpace(opts.ProjectID)
	if project == "" {
		return nil, errors.New("remote config project id required")
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid remote config base url: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &Client{
		endpoint:  base + "/v1/projects/" + url.PathEscape(project) + "/remoteConfig",
		client:    opts.HTTPClient,
		tokens:    opts.TokenSource,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}, nil
}

// Endpoint returns the resource URL the client fetches from.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// GetTemplate performs a single fetch of the active template. It never retries.
func (c *Client) GetTemplate(ctx context.Context) (*Template, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Firebase-Client", c.userAgent)

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: obtain access token: %w", ErrFetchFailed, err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrFetchFailed, err)
	}
	if len(body) > maxTemplateBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrFetchFailed, maxTemplateBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, parseAPIError(resp.StatusCode, body))
	}

	tmpl, err := newTemplate(body, resp.Header.Get("ETag"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return tmpl, nil
}

// APIError describes a non-2xx response from the Remote Config service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

// Code returns the kebab-case error code, e.g. "permission-denied".
func (e *APIError) Code() string {
	if e.Status == "" {
		return "unknown-error"
	}
	return strings.ReplaceAll(strings.ToLower(e.Status), "_", "-")
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("remote-config/%s: %s (http %d)", e.Code(), msg, e.StatusCode)
}

type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Status: statusFromHTTP(statusCode)}

	var decoded googleErrorBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	if decoded.Error.Status != "" {
		apiErr.Status = decoded.Error.Status
	}
	apiErr.Message = decoded.Error.Message
	return apiErr
}

func statusFromHTTP(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}
