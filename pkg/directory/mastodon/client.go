// Package mastodon binds the directory contract to the Mastodon REST API:
// cursor pagination through Link headers, batched relationship lookups, and
// rate-limit aware request pacing with retry.
package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prunerapp/pruner/pkg/directory"
)

// Prometheus metrics for API operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_mastodon_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pruner_mastodon_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pruner_mastodon_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the instance root, e.g. "https://mastodon.social".
	BaseURL string

	// AccessToken is the OAuth bearer token for the logged-in user.
	AccessToken string

	// UserAgent identifies this client to the instance.
	UserAgent string

	// HTTPClient overrides the default HTTP client (for testing).
	HTTPClient *http.Client

	// Retry tunes the per-request retry; zero values get defaults.
	Retry RetryConfig
}

// Client is a directory.Client (and directory.ListManager) backed by a
// Mastodon instance. All methods are safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	limiter    *tracker
	logger     zerolog.Logger
}

var (
	_ directory.Client      = (*Client)(nil)
	_ directory.ListManager = (*Client)(nil)
)

// New creates a new Mastodon client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "pruner/1.0"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "mastodon-client").Str("instance", base.Host).Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		config:     cfg,
		limiter:    newTracker(logger),
		logger:     logger,
	}, nil
}

// ListFollowing implements directory.Client. The cursor is the max_id token
// the instance hands back through the Link header's rel="next" entry.
func (c *Client) ListFollowing(ctx context.Context, accountID string, opts directory.ListOptions) (directory.Page, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("max_id", opts.Cursor)
	}

	var raw []apiAccount
	header, err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/following", query, nil, &raw)
	if err != nil {
		return directory.Page{}, err
	}

	page := directory.Page{
		Accounts:   make([]directory.Account, len(raw)),
		NextCursor: nextCursor(header),
	}
	for i, a := range raw {
		page.Accounts[i] = a.toAccount()
	}
	return page, nil
}

// FetchRelationships implements directory.Client.
func (c *Client) FetchRelationships(ctx context.Context, ids []string) ([]directory.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > directory.MaxRelationshipBatch {
		return nil, fmt.Errorf("relationship batch of %d exceeds the %d id limit", len(ids), directory.MaxRelationshipBatch)
	}

	query := url.Values{}
	for _, id := range ids {
		query.Add("id[]", id)
	}

	var raw []apiRelationship
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/accounts/relationships", query, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]directory.Relationship, len(raw))
	for i, r := range raw {
		out[i] = r.toRelationship()
	}
	return out, nil
}

// FetchAccount implements directory.Client.
func (c *Client) FetchAccount(ctx context.Context, id string) (directory.Account, error) {
	var raw apiAccount
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+id, nil, nil, &raw); err != nil {
		return directory.Account{}, err
	}
	return raw.toAccount(), nil
}

// ListMemberships implements directory.Client.
func (c *Client) ListMemberships(ctx context.Context, accountID string) ([]directory.List, error) {
	var raw []apiList
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/lists", nil, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]directory.List, len(raw))
	for i, l := range raw {
		out[i] = l.toList()
	}
	return out, nil
}

// Unfollow implements directory.Client.
func (c *Client) Unfollow(ctx context.Context, accountID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+accountID+"/unfollow", nil, url.Values{}, nil)
	return err
}

// Lists implements directory.ListManager.
func (c *Client) Lists(ctx context.Context) ([]directory.List, error) {
	var raw []apiList
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/lists", nil, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]directory.List, len(raw))
	for i, l := range raw {
		out[i] = l.toList()
	}
	return out, nil
}

// AddToList implements directory.ListManager.
func (c *Client) AddToList(ctx context.Context, listID, accountID string) error {
	form := url.Values{}
	form.Add("account_ids[]", accountID)
	_, err := c.do(ctx, http.MethodPost, "/api/v1/lists/"+listID+"/accounts", nil, form, nil)
	return err
}

// CreateList implements directory.ListManager.
func (c *Client) CreateList(ctx context.Context, title string) (directory.List, error) {
	form := url.Values{}
	form.Set("title", title)

	var raw apiList
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/lists", nil, form, &raw); err != nil {
		return directory.List{}, err
	}
	return raw.toList(), nil
}

// do performs one API call with rate limit pacing, retry, and error
// classification. The response body is decoded into out when out is non-nil;
// the response headers of the successful attempt are returned for cursor
// extraction.
func (c *Client) do(ctx context.Context, method, endpoint string, query, form url.Values, out any) (http.Header, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	target := *c.baseURL
	target.Path = endpoint
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var header http.Header
	err := retryWithBackoff(ctx, c.config.Retry, func() (ErrorClass, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return ErrorClassRateLimit, err
		}

		// The body must be fresh per attempt.
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
		if err != nil {
			return ErrorClassClient, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return ErrorClassNetwork, err
		}
		defer resp.Body.Close()

		c.limiter.UpdateFromHeaders(resp.Header)
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("API request error")

			if class == ErrorClassAuth {
				return class, fmt.Errorf("%w: %s returned status %d", directory.ErrAuthExpired, endpoint, resp.StatusCode)
			}
			return class, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: class,
				Endpoint:   endpoint,
				Message:    resp.Status,
			}
		}

		if out != nil {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
				return ErrorClassNetwork, fmt.Errorf("read response body: %w", err)
			}
			if err := json.Unmarshal(data, out); err != nil {
				errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
				return ErrorClassClient, fmt.Errorf("%w: decode %s: %v", directory.ErrMalformedResponse, endpoint, err)
			}
		}
		header = resp.Header
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// classifyStatus categorizes an HTTP status for retry and observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// nextCursor extracts the max_id token from the Link header's rel="next"
// entry. An absent or exhausted Link means the last page.
func nextCursor(header http.Header) string {
	for _, link := range header.Values("Link") {
		for _, entry := range strings.Split(link, ",") {
			parts := strings.Split(entry, ";")
			if len(parts) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(parts[0]), "<>")
			isNext := false
			for _, param := range parts[1:] {
				if strings.TrimSpace(param) == `rel="next"` {
					isNext = true
					break
				}
			}
			if !isNext {
				continue
			}
			u, err := url.Parse(target)
			if err != nil {
				return ""
			}
			return u.Query().Get("max_id")
		}
	}
	return ""
}
