package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/feedrail/shopfeed/pkg/config"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"github.com/sethvargo/go-retry"
)

const userAgent = "shopfeed/1.0"

// maxResponseBytes bounds how much of an error body is retained for reporting.
const maxErrorBodyBytes = 8192

var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="(next|previous)"`)

// CallLimit mirrors the X-Shopify-Shop-Api-Call-Limit header as used/total.
type CallLimit struct {
	Used  int
	Total int
}

// Pagination holds the page_info cursors decoded from a Link header.
type Pagination struct {
	Next     string
	Previous string
}

// Client issues REST and GraphQL requests against one shop's admin API.
// Workers that need independent connection state construct their own client
// via Clone.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger

	shopDomain string
	token      string
	apiVersion string

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	sleep func(context.Context, time.Duration) error

	mu          sync.Mutex
	lastHeaders http.Header
	callLimit   CallLimit
}

// NewClient builds a client for the given shop. shopName may be the bare
// shop handle, a full myshopify domain, or a scheme-qualified base URL.
func NewClient(cfg config.ShopifyConfig, shopName, token string, log *logger.Logger) *Client {
	domain := shopName
	if !strings.Contains(domain, ".") && !strings.Contains(domain, "://") {
		domain = domain + ".myshopify.com"
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		log:         log,
		shopDomain:  domain,
		token:       token,
		apiVersion:  cfg.APIVersion,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		sleep:       sleepCtx,
	}
}

// Clone returns a client with identical settings but its own HTTP transport
// state, for use inside pull workers.
func (c *Client) Clone() *Client {
	clone := NewClient(config.ShopifyConfig{
		APIVersion:  c.apiVersion,
		HTTPTimeout: c.httpClient.Timeout,
		MaxAttempts: c.maxAttempts,
		BackoffBase: c.backoffBase,
		BackoffCap:  c.backoffCap,
	}, c.shopDomain, c.token, c.log)
	return clone
}

// ShopDomain returns the myshopify domain the client is bound to.
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

// APIVersion returns the admin API version in use.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

// Request performs an admin API request and returns the raw response body.
// For GET requests the payload is rendered as a query string; otherwise it is
// JSON-encoded as the body. Paths not starting with "/" are resolved under
// /admin/api/<version>/.
func (c *Client) Request(ctx context.Context, method, path string, payload any, headers map[string]string) ([]byte, error) {
	endpoint, err := c.buildURL(method, path, payload)
	if err != nil {
		return nil, err
	}

	var body []byte
	contentType := "application/json"
	if payload != nil && method != http.MethodGet {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "encoding request payload")
		}
	}

	return c.do(ctx, method, endpoint, body, contentType, headers)
}

// GraphQL posts a raw GraphQL document to the admin graphql endpoint using
// the application/graphql content type and returns the raw response body.
func (c *Client) GraphQL(ctx context.Context, query string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL(), c.apiVersion)
	return c.do(ctx, http.MethodPost, endpoint, []byte(query), "application/graphql", nil)
}

func (c *Client) baseURL() string {
	if strings.Contains(c.shopDomain, "://") {
		return strings.TrimSuffix(c.shopDomain, "/")
	}
	return "https://" + c.shopDomain
}

// Download streams an arbitrary URL (the bulk result file) into dst. No auth
// headers are attached: bulk URLs are pre-signed.
func (c *Client) Download(ctx context.Context, rawURL string, dst *os.File) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "building download request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "downloading bulk result")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, pkgerrors.New(pkgerrors.CodeTransient, fmt.Sprintf("bulk result download returned %d", resp.StatusCode))
	}
	return io.Copy(dst, resp.Body)
}

func (c *Client) buildURL(method, path string, payload any) (string, error) {
	var endpoint string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		endpoint = path
	} else if strings.HasPrefix(path, "/") {
		endpoint = c.baseURL() + path
	} else {
		endpoint = fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL(), c.apiVersion, path)
	}

	if method != http.MethodGet || payload == nil {
		return endpoint, nil
	}

	values := url.Values{}
	switch typed := payload.(type) {
	case url.Values:
		values = typed
	case map[string]string:
		for k, v := range typed {
			values.Set(k, v)
		}
	default:
		return "", pkgerrors.New(pkgerrors.CodeInfra, fmt.Sprintf("unsupported GET payload type %T", payload))
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInfra, err, "parsing request url")
	}
	query := parsed.Query()
	for k, vs := range values {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, contentType string, headers map[string]string) ([]byte, error) {
	backoff := retry.NewExponential(c.backoffBase)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(c.backoffCap, backoff)
	backoff = retry.WithMaxRetries(uint64(c.maxAttempts-1), backoff)

	var result []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = c.attempt(ctx, method, endpoint, body, contentType, headers)
		if attemptErr == nil {
			return nil
		}
		if pkgerrors.IsRecoverable(attemptErr) {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	return result, err
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte, contentType string, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "building request")
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failures (resets, timeouts) stay retriable.
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "transport failure")
	}
	defer resp.Body.Close()

	c.recordHeaders(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header)
		if c.log != nil {
			c.log.Warn(ctx, fmt.Sprintf("rate limited, waiting %s", wait))
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "canceled during rate-limit wait")
		}
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "429 from store API")
	}

	if isTransientStatus(resp.StatusCode) {
		return nil, pkgerrors.New(pkgerrors.CodeTransient, fmt.Sprintf("status %d from store API", resp.StatusCode))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "reading response body")
	}

	if resp.StatusCode >= http.StatusBadRequest || resp.StatusCode == http.StatusSeeOther {
		snippet := payload
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		apiErr := pkgerrors.New(pkgerrors.CodeAPI, fmt.Sprintf("status %d from store API", resp.StatusCode))
		return nil, apiErr.WithDetails(map[string]any{
			"status":     resp.StatusCode,
			"body":       string(snippet),
			"request_id": resp.Header.Get("X-Request-Id"),
		})
	}

	return payload, nil
}

func (c *Client) recordHeaders(headers http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeaders = headers
	if parts := strings.Split(headers.Get("X-Shopify-Shop-Api-Call-Limit"), "/"); len(parts) == 2 {
		used, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		total, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 == nil && err2 == nil {
			c.callLimit = CallLimit{Used: used, Total: total}
		}
	}
}

// LastHeaders returns the headers of the most recent response.
func (c *Client) LastHeaders() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeaders
}

// CallLimit returns the most recently observed API call limit.
func (c *Client) CallLimit() CallLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLimit
}

// ParseLinkHeader decodes the RFC 5988 Link header of the last response into
// next/previous page_info cursors.
func (c *Client) ParseLinkHeader() Pagination {
	headers := c.LastHeaders()
	if headers == nil {
		return Pagination{}
	}
	return ParseLink(headers.Get("Link"))
}

// ParseLink decodes a raw Link header value.
func ParseLink(value string) Pagination {
	var p Pagination
	if value == "" {
		return p
	}
	for _, link := range strings.Split(value, ",") {
		match := linkRegex.FindStringSubmatch(link)
		if len(match) != 3 {
			continue
		}
		parsed, err := url.Parse(match[1])
		if err != nil {
			continue
		}
		pageInfo := parsed.Query().Get("page_info")
		if pageInfo == "" {
			continue
		}
		if match[2] == "next" {
			p.Next = pageInfo
		} else {
			p.Previous = pageInfo
		}
	}
	return p
}

func retryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 2 * time.Second
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
