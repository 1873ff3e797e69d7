package mockteo

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gmkits/edgeone-purge/internal/logging"
	"github.com/gmkits/edgeone-purge/internal/middleware"
)

// loggedHeaders are the request headers worth recording for a TC3 call.
var loggedHeaders = []string{"Authorization", "X-TC-Action", "X-TC-Version", "X-TC-Timestamp", "X-TC-Region"}

// AccessLog writes one record per exchange, after the handler returns, keyed
// by the request ID the RequestID middleware assigned. Request and response
// bodies are only captured when the logger is enabled for debug. A nil logger
// disables logging.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verbose := logger.Enabled(r.Context(), slog.LevelDebug)

			var payload []byte
			if verbose && r.Body != nil {
				// Bounded so an oversized body still reaches MaxBodySize intact.
				payload, _ = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
				r.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(bytes.NewReader(payload), r.Body), r.Body}
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK, capture: verbose}
			start := time.Now()
			next.ServeHTTP(sw, r)

			reqAttrs := []any{"method", r.Method, "path", r.URL.Path, "host", r.Host}
			for _, name := range loggedHeaders {
				if v := r.Header.Get(name); v != "" {
					reqAttrs = append(reqAttrs, name, logging.MaskHeader(name, v))
				}
			}
			respAttrs := []any{"status", sw.status, "bytes", sw.written}
			if verbose {
				reqAttrs = append(reqAttrs, "body", string(payload))
				respAttrs = append(respAttrs, "body", sw.body.String())
			}

			logger.LogAttrs(r.Context(), levelFor(sw.status), "mockteo exchange",
				slog.String("request_id", middleware.GetRequestID(r.Context())),
				slog.Group("request", reqAttrs...),
				slog.Group("response", respAttrs...),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

// levelFor keeps envelope errors (status 200) at info; only transport-level
// failures are warnings.
func levelFor(status int) slog.Level {
	if status >= http.StatusBadRequest {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int
	capture bool
	body    bytes.Buffer
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	if w.capture {
		w.body.Write(b[:n])
	}
	return n, err
}

// Unwrap lets http.ResponseController reach the connection for hijacking.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
