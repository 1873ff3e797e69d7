package teo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gmkits/edgeone-purge/internal/tc3"
)

// maxErrorBodyBytes bounds how much of an unexpected response body ends up in an error.
const maxErrorBodyBytes = 512

// Client sends signed purge requests to the EdgeOne API.
type Client struct {
	baseURL    string
	builder    RequestBuilder
	httpClient *http.Client
	nowFn      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sends requests to url instead of the site host (useful for testing
// with a mock server). The signed Host header is left unchanged. Plain HTTP is
// only honoured for loopback hosts.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRegion sets the X-TC-Region header value.
func WithRegion(region string) Option {
	return func(c *Client) {
		c.builder.Region = region
	}
}

// WithClock overrides the clock used to stamp requests built by Purge.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.nowFn = now
	}
}

// NewClient creates a new EdgeOne purge client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		nowFn:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Build signs a purge request at the client's current time without sending it.
func (c *Client) Build(creds Credentials, spec PurgeSpec) (*SignedRequest, error) {
	return c.builder.Build(creds, spec, tc3.NewSigningContext(c.nowFn()))
}

// Purge builds, signs and sends a purge request in a single attempt.
func (c *Client) Purge(ctx context.Context, creds Credentials, spec PurgeSpec) (*PurgeResult, error) {
	req, err := c.Build(creds, spec)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

// Send performs exactly one round trip for sr and interprets the response envelope.
// Errors are *APIError when the API rejected the request and *TransportError otherwise.
func (c *Client) Send(ctx context.Context, sr *SignedRequest) (*PurgeResult, error) {
	target, err := c.targetURL(sr)
	if err != nil {
		return nil, &TransportError{Detail: "invalid request URL", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(sr.Body))
	if err != nil {
		return nil, &TransportError{Detail: "failed to create request", Err: err}
	}
	for k, v := range sr.Header {
		if k == HeaderHost {
			continue
		}
		httpReq.Header[k] = append([]string(nil), v...)
	}
	httpReq.Host = sr.Host

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Detail: "purge request failed", Err: err}
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Detail: "failed to read response", Err: err}
	}

	return parseResponse(resp.StatusCode, body)
}

// targetURL resolves where the connection goes.
func (c *Client) targetURL(sr *SignedRequest) (string, error) {
	if c.baseURL != "" {
		if err := ValidateEndpoint(c.baseURL); err != nil {
			return "", err
		}
		return c.baseURL + "/", nil
	}
	if err := ValidateEndpoint(sr.URL); err != nil {
		return "", err
	}
	return sr.URL, nil
}

// ValidateEndpoint accepts HTTPS URLs, and plain HTTP only when the host is a
// loopback address, so a signed request never leaves the machine unencrypted.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("refusing plain HTTP to non-loopback host %q", u.Host)
	default:
		return fmt.Errorf("refusing non-HTTPS endpoint %q", raw)
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// parseResponse maps a raw response to a result or a typed error.
func parseResponse(statusCode int, body []byte) (*PurgeResult, error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &TransportError{
			Detail: fmt.Sprintf("failed to decode response (status %d): %s", statusCode, excerpt(body)),
			Err:    fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}

	if env.Response == nil {
		return nil, &TransportError{
			Detail: fmt.Sprintf("unexpected response shape (status %d): %s", statusCode, excerpt(body)),
			Err:    ErrMalformedResponse,
		}
	}

	if e := env.Response.Error; e != nil {
		return nil, &APIError{
			StatusCode: statusCode,
			Code:       e.Code,
			Message:    e.Message,
			RequestID:  env.Response.RequestID,
		}
	}

	if statusCode < 200 || statusCode > 299 {
		return nil, &TransportError{
			Detail: fmt.Sprintf("status %d: %s", statusCode, excerpt(body)),
			Err:    ErrUnexpectedStatus,
		}
	}

	result := &PurgeResult{
		JobID:     env.Response.JobID,
		RequestID: env.Response.RequestID,
		Failures:  env.Response.FailedList,
	}
	for _, f := range env.Response.FailedList {
		result.FailedTargets = append(result.FailedTargets, f.Targets...)
	}

	return result, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "..."
	}
	return s
}
