package normservice

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

	"github.com/legalkit/lexor/pkg/config"
)

// ErrNormNotFound means the service has no text for the reference. Not
// retried and not cached.
var ErrNormNotFound = errors.New("norm not found")

// retryBackoff holds the waits between attempts. Package variable so tests
// can shorten it.
var retryBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}

// NormText is one canonical article text as served by the normative-text
// service.
type NormText struct {
	SourceID string `json:"source_id"`
	Citation string `json:"citation"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
}

// Client talks to the normative-text service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *Cache
	retries    int
	logger     *slog.Logger
}

// NewClient creates the client. The HTTP timeout and cache TTL come from
// configuration; retries bounds how many times a failed fetch is retried.
// Only 5xx responses and transport errors are retried, client errors are
// final.
func NewClient(cfg *config.NormServiceConfig, retries int, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cache:      NewCache(cfg.CacheTTL),
		retries:    retries,
		logger:     logger.With("component", "normservice"),
	}
}

// FetchArticle returns the canonical text for one article reference,
// serving from cache when possible.
func (c *Client) FetchArticle(ctx context.Context, reference string) (*NormText, error) {
	key := normalizeReference(reference)
	if key == "" {
		return nil, fmt.Errorf("empty article reference")
	}

	if norm, ok := c.cache.Get(key); ok {
		return norm, nil
	}

	norm, err := c.fetchWithRetry(ctx, key)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, norm)
	return norm, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("norm service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("norm service returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// OverrideHTTPClientForTest replaces the internal HTTP client. For testing
// only.
func (c *Client) OverrideHTTPClientForTest(httpClient *http.Client) {
	c.httpClient = httpClient
}

func (c *Client) fetchWithRetry(ctx context.Context, reference string) (*NormText, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		norm, retryable, err := c.fetch(ctx, reference)
		if err == nil {
			return norm, nil
		}
		lastErr = err

		if !retryable || attempt >= c.retries {
			return nil, lastErr
		}

		c.logger.Warn("Norm fetch failed, retrying",
			"reference", reference, "attempt", attempt+1, "error", err)

		backoff := retryBackoff[min(attempt, len(retryBackoff)-1)]
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// fetch performs one request. The second return reports whether the failure
// is worth retrying: transport errors and 5xx are, everything else is not.
func (c *Client) fetch(ctx context.Context, reference string) (*NormText, bool, error) {
	fetchURL := c.baseURL + "/api/v1/norms?ref=" + url.QueryEscape(reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetch norm %q: %w", reference, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrNormNotFound, reference)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("norm service returned HTTP %d for %q", resp.StatusCode, reference)
	default:
		return nil, false, fmt.Errorf("norm service returned HTTP %d for %q", resp.StatusCode, reference)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response body: %w", err)
	}

	var norm NormText
	if err := json.Unmarshal(body, &norm); err != nil {
		return nil, false, fmt.Errorf("decode norm response: %w", err)
	}
	if norm.Text == "" {
		return nil, false, fmt.Errorf("norm service returned empty text for %q", reference)
	}
	return &norm, false, nil
}

// normalizeReference canonicalizes an article reference for cache keying
// and lookup: lowercase, single spaces.
func normalizeReference(reference string) string {
	return strings.Join(strings.Fields(strings.ToLower(reference)), " ")
}
