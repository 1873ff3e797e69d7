package teo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmkits/edgeone-purge/internal/tc3"
)

// mockRoundTripper is a test helper that implements http.RoundTripper.
type mockRoundTripper struct {
	response *http.Response
	err      error
	called   bool
}

// RoundTrip implements http.RoundTripper for mockRoundTripper.
func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.called = true
	return m.response, m.err
}

func debugLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLoggingTransport_RedactsAuthorization(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	inner := &mockRoundTripper{response: &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(`{"Response":{"JobId":"job-1","RequestId":"req-1"}}`)),
	}}

	client := NewClient(WithHTTPClient(&http.Client{
		Transport: &LoggingTransport{Transport: inner, Logger: debugLogger(&buf), Prefix: "teo"},
	}))

	req, err := RequestBuilder{}.Build(testCreds, testSpec(), tc3.NewSigningContext(testTime))
	require.NoError(t, err)

	result, err := client.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.True(t, inner.called)

	logs := buf.String()
	assert.Contains(t, logs, "HTTP request")
	assert.Contains(t, logs, "HTTP response")
	assert.Contains(t, logs, "zone-2o0i41pv2h8c")
	assert.Contains(t, logs, "Signature=db01...26fc")
	assert.NotContains(t, logs, "db01cd8a90408231d9e29170bf132155a9b9c716c122dca5f069ae61316b26fc")
	assert.NotContains(t, logs, testCreds.SecretID)
	assert.NotContains(t, logs, testCreds.SecretKey)
}

func TestLoggingTransport_BodyStillSent(t *testing.T) {
	t.Parallel()

	var seen []byte
	inner := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen, _ = io.ReadAll(req.Body)
		return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: io.NopCloser(strings.NewReader("{}"))}, nil
	})

	var buf bytes.Buffer
	lt := &LoggingTransport{Transport: inner, Logger: debugLogger(&buf)}
	req, err := http.NewRequest(http.MethodPost, "https://teo.tencentcloudapi.com/", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	resp, err := lt.RoundTrip(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, `{"a":1}`, string(seen))
	assert.Equal(t, "{}", string(body))
}

func TestLoggingTransport_Error(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	boom := errors.New("dial tcp: no route to host")
	lt := &LoggingTransport{Transport: &mockRoundTripper{err: boom}, Logger: debugLogger(&buf)}

	req, err := http.NewRequest(http.MethodPost, "https://teo.tencentcloudapi.com/", nil)
	require.NoError(t, err)

	_, err = lt.RoundTrip(req)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "HTTP request failed")
}

func TestLoggingTransport_SilentAboveDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	inner := &mockRoundTripper{response: &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("{}")),
	}}
	lt := &LoggingTransport{Transport: inner, Logger: logger}

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/", nil)
	require.NoError(t, err)
	_, err = lt.RoundTrip(req)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
