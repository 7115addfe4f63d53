// ABOUTME: HTTP client for the Stampchain API with exponential-backoff retries.
// ABOUTME: Maps HTTP failures onto the canonical tool error kinds.

package stampchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/2389/stampchain-mcp/internal/cache"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

const (
	DefaultBaseURL       = "https://stampchain.io/api/v2"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultUserAgent     = "stampchain-mcp"

	maxResponseBytes = 10 << 20
)

// API is the set of Stampchain queries the tools depend on.
type API interface {
	GetStamp(ctx context.Context, id string) (*Stamp, error)
	SearchStamps(ctx context.Context, q StampQuery) (*Page[Stamp], error)
	GetRecentStamps(ctx context.Context, limit int) (*Page[Stamp], error)
	GetCollection(ctx context.Context, id string) (*Collection, error)
	SearchCollections(ctx context.Context, q CollectionQuery) (*Page[Collection], error)
	GetToken(ctx context.Context, tick string) (*Token, error)
	SearchTokens(ctx context.Context, q TokenQuery) (*Page[Token], error)
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stampchain: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("stampchain: %d %s", e.StatusCode, e.Message)
}

// Config holds client settings. Zero values take the package defaults.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	UserAgent     string
	HTTPClient    *http.Client
	Logger        *slog.Logger

	// Cache, when set, holds successful response bodies keyed by URL.
	Cache *cache.Cache[[]byte]
}

// Client talks to the Stampchain API.
type Client struct {
	baseURL       string
	maxRetries    int
	retryInterval time.Duration
	userAgent     string
	http          *http.Client
	cache         *cache.Cache[[]byte]
	logger        *slog.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		userAgent:     cfg.UserAgent,
		http:          httpClient,
		cache:         cfg.Cache,
		logger:        logger.With("component", "stampchain"),
	}
}

// GetStamp fetches a stamp by number or CPID.
func (c *Client) GetStamp(ctx context.Context, id string) (*Stamp, error) {
	var out single[Stamp]
	if err := c.get(ctx, "/stamps/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SearchStamps lists stamps matching q.
func (c *Client) SearchStamps(ctx context.Context, q StampQuery) (*Page[Stamp], error) {
	var out Page[Stamp]
	if err := c.get(ctx, "/stamps", q.values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRecentStamps lists the newest stamps.
func (c *Client) GetRecentStamps(ctx context.Context, limit int) (*Page[Stamp], error) {
	return c.SearchStamps(ctx, StampQuery{Limit: limit, Sort: SortDesc})
}

// GetCollection fetches a collection by id.
func (c *Client) GetCollection(ctx context.Context, id string) (*Collection, error) {
	var out single[Collection]
	if err := c.get(ctx, "/collections/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SearchCollections lists collections matching q.
func (c *Client) SearchCollections(ctx context.Context, q CollectionQuery) (*Page[Collection], error) {
	var out Page[Collection]
	if err := c.get(ctx, "/collections", q.values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetToken fetches an SRC-20 deployment by ticker.
func (c *Client) GetToken(ctx context.Context, tick string) (*Token, error) {
	var out single[Token]
	if err := c.get(ctx, "/src20/tick/"+url.PathEscape(tick), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SearchTokens lists SRC-20 deployments matching q.
func (c *Client) SearchTokens(ctx context.Context, q TokenQuery) (*Page[Token], error) {
	var out Page[Token]
	if err := c.get(ctx, "/src20", q.values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get performs a GET with retries and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	if c.cache != nil {
		if body, ok := c.cache.Get(target); ok {
			if err := json.Unmarshal(body, out); err == nil {
				c.logger.Debug("stampchain cache hit", "path", path)
				return nil
			}
			c.cache.Delete(target)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		body, err := c.do(ctx, target)
		if err != nil {
			if ctx.Err() != nil || !toolerr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("stampchain request failed, retrying",
				"path", path,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(toolerr.Wrap(toolerr.KindExecution, err,
				fmt.Sprintf("decoding %s response: %v", path, err)).WithRetryable(false))
		}
		if c.cache != nil {
			c.cache.Set(target, body)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx))

	if err != nil {
		if _, ok := toolerr.As(err); !ok {
			err = toolerr.Wrap(toolerr.KindExecution, err, "stampchain request cancelled").WithRetryable(false)
		}
		c.logger.Warn("stampchain request failed",
			"path", path,
			"attempts", attempt,
			"error", err,
		)
	}
	return err
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, err, "building stampchain request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, toolerr.Wrap(toolerr.KindExecution, err, "stampchain request cancelled").WithRetryable(false)
		}
		return nil, toolerr.Wrap(toolerr.KindExecution, err, fmt.Sprintf("stampchain request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindExecution, err, "reading stampchain response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

// classifyStatus maps an HTTP failure onto a canonical fault kind.
func classifyStatus(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: errorMessage(body)}

	var kind toolerr.Kind
	switch {
	case status == http.StatusNotFound:
		kind = toolerr.KindResourceNotFound
	case status == http.StatusTooManyRequests:
		kind = toolerr.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = toolerr.KindAuthentication
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = toolerr.KindValidation
	case status >= 500:
		kind = toolerr.KindExecution
	default:
		return toolerr.Wrap(toolerr.KindExecution, apiErr, "").
			WithRetryable(false).
			WithDetail("status", status)
	}
	return toolerr.Wrap(kind, apiErr, "").WithDetail("status", status)
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
