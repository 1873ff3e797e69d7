// Package rategate decides whether a purge may run based on when the same
// GitHub Actions workflow last completed successfully.
//
// The gate is advisory and fails open: when history cannot be read the purge
// is allowed.
package rategate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIURL is the public GitHub REST API.
	DefaultAPIURL = "https://api.github.com"

	// DefaultPerPage is how many completed runs are fetched per page.
	DefaultPerPage = 20

	// DefaultMaxPages bounds how far back a check pages through history.
	DefaultMaxPages = 5

	apiVersion = "2022-11-28"
)

// Config identifies the workflow whose history is consulted.
type Config struct {
	APIURL     string
	Token      string
	Repository string // owner/repo
	Workflow   string // workflow name as reported by the runs API

	// WorkflowFile narrows the query to one workflow's runs. It is a file
	// name such as "deploy.yml" or a numeric workflow ID. When empty the
	// repository-wide run list is paged and filtered by Workflow.
	WorkflowFile string

	PerPage  int
	MaxPages int
}

// Decision is the outcome of a rate check.
type Decision struct {
	Allowed bool

	// Set when a previous successful run was evaluated.
	LastRunTimestamp string
	LastRun          time.Time

	// Remaining is the wait before a purge is permitted again; zero when allowed.
	Remaining time.Duration

	// Reason is a short human-readable explanation.
	Reason string
}

// MinutesRemaining returns Remaining in fractional minutes.
func (d Decision) MinutesRemaining() float64 {
	return d.Remaining.Minutes()
}

// WorkflowRun is the subset of a GitHub workflow run the gate reads.
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	UpdatedAt  string `json:"updated_at"`
}

type runsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

var (
	// ErrNotConfigured means token, repository or workflow is missing.
	ErrNotConfigured = errors.New("rategate: run history not configured")

	// ErrUnexpectedResponse means the history API answered with something unusable.
	ErrUnexpectedResponse = errors.New("rategate: unexpected history response")
)

// Gate queries run history. It holds no state between checks.
type Gate struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	nowFn      func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gate) {
		g.httpClient = client
	}
}

// WithLogger sets the logger used to report fail-open conditions.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithClock overrides the current-time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.nowFn = now
	}
}

// New creates a Gate for cfg.
func New(cfg Config, opts ...Option) *Gate {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	g := &Gate{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.DiscardHandler),
		nowFn:      time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// CheckAllowed reports whether at least minIntervalHours have passed since the
// most recent successful run of the workflow other than currentRunID.
// Any failure to evaluate the history yields an allowed decision.
func (g *Gate) CheckAllowed(ctx context.Context, minIntervalHours float64, currentRunID string) Decision {
	if minIntervalHours <= 0 {
		return Decision{Allowed: true, Reason: "rate limit disabled"}
	}

	run, completedAt, err := g.LatestSuccessfulRun(ctx, currentRunID)
	if err != nil {
		g.logger.Warn("rate limit check skipped, allowing purge", "error", err)
		return Decision{Allowed: true, Reason: "history unavailable"}
	}
	if run == nil {
		return Decision{Allowed: true, Reason: "no previous successful run"}
	}

	interval := time.Duration(minIntervalHours * float64(time.Hour))
	elapsed := g.nowFn().UTC().Sub(completedAt)

	d := Decision{
		LastRunTimestamp: run.UpdatedAt,
		LastRun:          completedAt,
	}

	if elapsed >= interval {
		d.Allowed = true
		d.Reason = fmt.Sprintf("last successful run %s ago", elapsed.Round(time.Second))
		return d
	}

	d.Remaining = min(interval-elapsed, interval)
	d.Reason = fmt.Sprintf("last successful run %s ago, minimum interval %s", elapsed.Round(time.Second), interval)
	g.logger.Info("purge deferred by rate limit",
		"run_id", run.ID,
		"last_run", run.UpdatedAt,
		"minutes_remaining", d.MinutesRemaining(),
	)
	return d
}

// LatestSuccessfulRun returns the newest completed, successful run of the workflow
// other than currentRunID, with its completion time in UTC. A nil run with a nil
// error means there is no such run within MaxPages pages of history.
func (g *Gate) LatestSuccessfulRun(ctx context.Context, currentRunID string) (*WorkflowRun, time.Time, error) {
	endpoint, err := g.runsEndpoint()
	if err != nil {
		return nil, time.Time{}, err
	}

	type candidate struct {
		run         WorkflowRun
		completedAt time.Time
	}

	var candidates []candidate
	for page := 1; page <= g.cfg.MaxPages && len(candidates) == 0; page++ {
		runs, err := g.fetchRuns(ctx, endpoint, page)
		if err != nil {
			return nil, time.Time{}, err
		}

		for _, run := range runs {
			if run.Name != g.cfg.Workflow || run.Conclusion != "success" {
				continue
			}
			if currentRunID != "" && strconv.FormatInt(run.ID, 10) == currentRunID {
				continue
			}
			completedAt, err := ParseTimestamp(run.UpdatedAt)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("run %d: %w", run.ID, err)
			}
			candidates = append(candidates, candidate{run: run, completedAt: completedAt})
		}

		if len(runs) < g.cfg.PerPage {
			break
		}
	}

	if len(candidates) == 0 {
		return nil, time.Time{}, nil
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		return b.completedAt.Compare(a.completedAt)
	})

	latest := candidates[0]
	return &latest.run, latest.completedAt, nil
}

// runsEndpoint returns the run list URL without its query string.
func (g *Gate) runsEndpoint() (string, error) {
	if g.cfg.Token == "" || g.cfg.Repository == "" || g.cfg.Workflow == "" {
		return "", ErrNotConfigured
	}
	owner, repo, ok := strings.Cut(g.cfg.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", fmt.Errorf("%w: repository %q is not owner/repo", ErrNotConfigured, g.cfg.Repository)
	}

	base := fmt.Sprintf("%s/repos/%s/%s/actions", g.cfg.APIURL, url.PathEscape(owner), url.PathEscape(repo))
	if g.cfg.WorkflowFile != "" {
		return base + "/workflows/" + url.PathEscape(g.cfg.WorkflowFile) + "/runs", nil
	}
	return base + "/runs", nil
}

// fetchRuns lists one page of completed runs, newest first.
func (g *Gate) fetchRuns(ctx context.Context, endpoint string, page int) ([]WorkflowRun, error) {
	query := url.Values{}
	query.Set("status", "completed")
	query.Set("per_page", strconv.Itoa(g.cfg.PerPage))
	query.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}

	var result runsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}

	return result.WorkflowRuns, nil
}

// WorkflowFileFromRef extracts the workflow file name from a workflow ref such
// as "owner/repo/.github/workflows/deploy.yml@refs/heads/main".
func WorkflowFileFromRef(ref string) string {
	file, _, _ := strings.Cut(ref, "@")
	if file == "" {
		return ""
	}
	return path.Base(file)
}

// ParseTimestamp parses an RFC 3339 timestamp as returned by the GitHub API
// and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
