package teo

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gmkits/edgeone-purge/internal/logging"
)

// LoggingTransport wraps an http.RoundTripper and logs all HTTP interactions at
// debug level. Authorization and other credential headers are masked.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
	Prefix    string // e.g., "teo" or "github"
}

// RoundTrip implements http.RoundTripper interface
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	var reqBodyBytes []byte
	if req.Body != nil {
		var err error
		reqBodyBytes, err = io.ReadAll(req.Body)
		//nolint:errcheck
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBodyBytes))
	}

	t.Logger.Debug("HTTP request",
		"prefix", t.Prefix,
		"method", req.Method,
		"url", req.URL.String(),
		"host", req.Host,
		"headers", maskHeaders(req.Header),
		"body", string(reqBodyBytes),
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.Logger.Debug("HTTP request failed",
			"prefix", t.Prefix,
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	//nolint:errcheck
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBodyBytes))

	t.Logger.Debug("HTTP response",
		"prefix", t.Prefix,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"headers", maskHeaders(resp.Header),
		"body", string(respBodyBytes),
	)

	return resp, nil
}

// transport returns the underlying transport or DefaultTransport if nil
func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = logging.MaskHeader(k, strings.Join(v, ", "))
	}
	return out
}
