// Package main runs the mock EdgeOne API as a standalone server for end-to-end
// runs of the CLI.
//
//	mockteo          serve on $PORT (default 8081)
//	mockteo health   exit 0 if the server on $PORT answers /admin/state
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gmkits/edgeone-purge/internal/logging"
	"github.com/gmkits/edgeone-purge/internal/testutil/mockteo"
)

const shutdownGrace = 5 * time.Second

// settings is the environment the binary reads.
type settings struct {
	Port      string
	SecretID  string
	SecretKey string
	LogLevel  string
}

func loadSettings() settings {
	s := settings{
		Port:      os.Getenv("PORT"),
		SecretID:  os.Getenv("MOCKTEO_SECRET_ID"),
		SecretKey: os.Getenv("MOCKTEO_SECRET_KEY"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
	}
	if s.Port == "" {
		s.Port = "8081"
	}
	return s
}

// newMock builds the handler and seeds the key pair from s when both halves are set.
// More keys can be registered with POST /admin/credentials.
func newMock(s settings, logger *slog.Logger) *mockteo.Server {
	server := mockteo.NewHandler(logger)
	if s.SecretID != "" && s.SecretKey != "" {
		server.AddCredentials(s.SecretID, s.SecretKey)
	}
	return server
}

// serve answers on ln until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	logger.Info("mockteo listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("mockteo shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// checkHealth fails unless url answers 200 within a few seconds.
func checkHealth(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	//nolint:errcheck
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	s := loadSettings()

	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.New(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) > 0 && args[0] == "health" {
		if err := checkHealth(ctx, "http://localhost:"+s.Port+"/admin/state"); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	ln, err := net.Listen("tcp", ":"+s.Port)
	if err != nil {
		logger.Error("listen failed", "port", s.Port, "error", err)
		return 1
	}
	if err := serve(ctx, ln, newMock(s, logger).Handler(), logger); err != nil {
		logger.Error("mockteo stopped", "error", err)
		return 1
	}
	return 0
}
