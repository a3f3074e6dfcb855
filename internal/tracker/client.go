// Package tracker is the adapter over the ticket tracker's REST API. It
// exposes issue, comment and search lookups with per-request basic auth,
// client-side rate limiting and structured error mapping. Retry policy is
// owned by the fetch pool, not by this client.
package tracker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/inc-correlator/internal/config"
	errs "github.com/tareqmamari/inc-correlator/internal/errors"
	"github.com/tareqmamari/inc-correlator/internal/session"
	"github.com/tareqmamari/inc-correlator/internal/tracing"
)

// Client is an HTTP client for the tracker's REST API. Safe for concurrent
// use; the underlying transport pools connections.
type Client struct {
	httpClient  *http.Client
	config      *config.Config
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	version     string
}

// New creates a new tracker client.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Client, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if !cfg.TLSVerify {
		tlsConfig.InsecureSkipVerify = true
		logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used for testing",
			zap.String("tracker_url", cfg.TrackerURL),
		)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	var rateLimiter *rate.Limiter
	if cfg.EnableRateLimit {
		rateLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	if version == "" {
		version = "dev"
	}

	return &Client{
		httpClient:  httpClient,
		config:      cfg,
		logger:      logger,
		rateLimiter: rateLimiter,
		version:     version,
	}, nil
}

// Issue fetches a single issue with its changelog expanded.
func (c *Client) Issue(ctx context.Context, key string) (*RawIssue, error) {
	var issue RawIssue
	path := fmt.Sprintf("/rest/api/2/issue/%s", url.PathEscape(key))
	query := map[string]string{"expand": "changelog"}
	if err := c.get(ctx, path, query, &issue); err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.NewTicketNotFound(key)
		}
		return nil, err
	}
	return &issue, nil
}

// Comments fetches all comments of an issue.
func (c *Client) Comments(ctx context.Context, key string) ([]RawComment, error) {
	var page commentPage
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", url.PathEscape(key))
	if err := c.get(ctx, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Comments, nil
}

// SearchKeys runs a JQL search and returns only the matching issue keys.
func (c *Client) SearchKeys(ctx context.Context, jql string, maxResults int) ([]string, error) {
	var result searchResult
	query := map[string]string{
		"jql":        jql,
		"maxResults": strconv.Itoa(maxResults),
		"fields":     "key",
	}
	if err := c.get(ctx, "/rest/api/2/search", query, &result); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		keys = append(keys, issue.Key)
	}
	return keys, nil
}

// Myself validates the request credentials against the tracker and returns
// the authenticated display name.
func (c *Client) Myself(ctx context.Context) (string, error) {
	var me myself
	if err := c.get(ctx, "/rest/api/2/myself", nil, &me); err != nil {
		return "", err
	}
	if me.DisplayName != "" {
		return me.DisplayName, nil
	}
	return me.Name, nil
}

// get executes a single GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	requestURL := c.config.TrackerURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Add(k, v)
		}
		requestURL = fmt.Sprintf("%s?%s", requestURL, params.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", fmt.Sprintf("inc-correlator/%s", c.version))
	for k, v := range tracing.HeadersFromContext(ctx) {
		httpReq.Header.Set(k, v)
	}

	creds, ok := session.FromContext(ctx)
	if !ok {
		creds = session.Credentials{Username: c.config.Username, Password: c.config.Password}
	}
	if !creds.Valid() {
		return errs.NewUnauthorized()
	}
	httpReq.SetBasicAuth(creds.Username, creds.Password)

	c.logger.Debug("Executing tracker request",
		zap.String("path", path),
	)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("Tracker request failed",
			zap.Error(err),
			zap.String("path", path),
			zap.Duration("duration", duration),
		)
		return errs.NewNetworkError(err.Error())
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("Tracker request completed",
		zap.String("path", path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
		zap.Int("response_size", len(body)),
	)

	if httpResp.StatusCode >= 400 {
		return errs.FromHTTPStatus(httpResp.StatusCode, string(body))
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
