package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gmkits/edgeone-purge/internal/config"
	"github.com/gmkits/edgeone-purge/internal/logging"
	"github.com/gmkits/edgeone-purge/internal/metrics"
	"github.com/gmkits/edgeone-purge/internal/rategate"
	"github.com/gmkits/edgeone-purge/internal/teo"
)

// newPurgeCmd represents the purge command.
func newPurgeCmd() *cobra.Command {
	purgeCmd := &cobra.Command{
		Use:   "purge [secret_id secret_key zone_id targets]",
		Short: "Create an EdgeOne cache purge task",
		Long: `Create a CreatePurgeTask job for one or more targets.

Every setting can come from a flag, a positional argument or an environment
variable; flags win over positional arguments, which win over the environment.

Targets are comma-separated. With --min-interval-hours the purge is skipped
(exit status 0) when the workflow named by --github-workflow completed
successfully more recently than the interval. Failing to read the run
history never blocks a purge.

Exit status: 0 on success or skip, 1 on API or network failure, 2 on invalid
configuration.`,
		Args: configArgs(cobra.MaximumNArgs(4)),
		RunE: runPurge,
	}

	flags := purgeCmd.Flags()
	flags.String("secret-id", "", "Tencent Cloud SecretId (env TENCENTCLOUD_SECRET_ID)")
	flags.String("secret-key", "", "Tencent Cloud SecretKey (env TENCENTCLOUD_SECRET_KEY)")
	flags.String("zone-id", "", "EdgeOne zone ID (env EDGEONE_ZONE_ID)")
	flags.String("targets", "", "comma-separated hosts, URLs or prefixes (env EDGEONE_TARGETS)")
	flags.String("type", "", "purge type: host, url, prefix (env EDGEONE_PURGE_TYPE)")
	flags.Bool("international", false, "use the international site endpoint (env EDGEONE_INTERNATIONAL)")
	flags.String("region", "", "X-TC-Region header value (env EDGEONE_REGION)")
	flags.String("endpoint", "", "override the API base URL (env EDGEONE_ENDPOINT)")
	flags.Float64("min-interval-hours", 0, "skip if the workflow succeeded within this many hours (env PURGE_MIN_INTERVAL_HOURS)")
	flags.String("github-token", "", "token for the workflow runs API (env GITHUB_TOKEN)")
	flags.String("github-repository", "", "owner/repo whose runs are consulted (env GITHUB_REPOSITORY)")
	flags.String("github-workflow", "", "workflow name to rate limit on (env GITHUB_WORKFLOW)")
	flags.String("github-workflow-ref", "", "workflow ref whose file scopes the run query (env GITHUB_WORKFLOW_REF)")
	flags.String("github-run-id", "", "ID of the current run, excluded from history (env GITHUB_RUN_ID)")
	flags.String("github-api-url", "", "GitHub API base URL (env GITHUB_API_URL)")
	flags.Duration("timeout", 0, "overall deadline for network calls (env PURGE_TIMEOUT, default 30s)")
	flags.Bool("dry-run", false, "sign and print the request without sending it")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile (env METRICS_FILE)")
	flags.String("log-level", "", "debug, info, warn, error (env LOG_LEVEL)")

	//nolint:errcheck
	flags.MarkHidden("endpoint")

	return purgeCmd
}

// resolveConfig layers positional arguments and changed flags over the environment.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	positional := []*string{&cfg.SecretID, &cfg.SecretKey, &cfg.ZoneID, &cfg.Targets}
	for i, arg := range args {
		*positional[i] = arg
	}

	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"secret-id":           &cfg.SecretID,
		"secret-key":          &cfg.SecretKey,
		"zone-id":             &cfg.ZoneID,
		"targets":             &cfg.Targets,
		"type":                &cfg.PurgeType,
		"region":              &cfg.Region,
		"endpoint":            &cfg.Endpoint,
		"github-token":        &cfg.GitHub.Token,
		"github-repository":   &cfg.GitHub.Repository,
		"github-workflow":     &cfg.GitHub.Workflow,
		"github-workflow-ref": &cfg.GitHub.WorkflowRef,
		"github-run-id":       &cfg.GitHub.RunID,
		"github-api-url":      &cfg.GitHub.APIURL,
		"metrics-file":        &cfg.MetricsFile,
		"log-level":           &cfg.LogLevel,
	}
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	if flags.Changed("international") {
		cfg.International, _ = flags.GetBool("international")
	}
	if flags.Changed("min-interval-hours") {
		cfg.MinInterval, _ = flags.GetFloat64("min-interval-hours")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}

	return cfg, nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return &teo.ConfigError{Field: "log level", Message: err.Error()}
	}
	logger := logging.New(cmd.ErrOrStderr(), level).With("invocation_id", uuid.NewString())

	reg := prometheus.NewRegistry()
	if err := metrics.Init(reg, version); err != nil {
		return err
	}
	if cfg.MetricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(cfg.MetricsFile, reg); err != nil {
				logger.Warn("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
			}
		}()
	}

	site := siteLabel(cfg)

	if err := cfg.Validate(); err != nil {
		metrics.RecordPurge(site, metrics.OutcomeConfigError)
		return err
	}
	spec, err := cfg.PurgeSpec()
	if err != nil {
		metrics.RecordPurge(site, metrics.OutcomeConfigError)
		return err
	}
	creds := cfg.Credentials()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	clientOpts := []teo.Option{
		teo.WithHTTPClient(newHTTPClient(logger, level, "teo")),
		teo.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, teo.WithBaseURL(cfg.Endpoint))
	}
	client := teo.NewClient(clientOpts...)

	if dryRun {
		sr, err := client.Build(creds, spec)
		if err != nil {
			return err
		}
		printSignedRequest(out, sr)
		return nil
	}

	if !checkRateGate(ctx, out, logger, level, cfg) {
		return nil
	}

	logger.Info("creating purge task",
		"zone_id", spec.ZoneID,
		"type", spec.Type,
		"targets", len(spec.Targets),
		"site", site,
		"credentials", creds,
	)

	start := time.Now()
	result, err := client.Purge(ctx, creds, spec)
	metrics.RecordPurgeDuration(site, time.Since(start).Seconds())
	metrics.RecordPurge(site, purgeOutcome(result, err))
	if err != nil {
		logger.Error("purge failed", "error", err)
		return err
	}

	fmt.Fprintf(out, "Purge task created: JobId=%s RequestId=%s\n", result.JobID, result.RequestID)
	if result.PartiallyFailed() {
		for _, failure := range result.Failures {
			fmt.Fprintf(out, "  failed (%s): %s\n", failure.Reason, strings.Join(failure.Targets, ", "))
		}
		logger.Warn("purge partially failed", "job_id", result.JobID, "failed_targets", result.FailedTargets)
	} else {
		logger.Info("purge task created", "job_id", result.JobID, "request_id", result.RequestID)
	}

	return nil
}

// checkRateGate reports whether the purge may proceed, printing the reason when it may not.
func checkRateGate(ctx context.Context, out io.Writer, logger *slog.Logger, level slog.Level, cfg *config.Config) bool {
	if cfg.MinInterval <= 0 {
		metrics.RecordRateDecision(metrics.DecisionSkipped)
		return true
	}

	gate := rategate.New(cfg.RateGate(),
		rategate.WithHTTPClient(newHTTPClient(logger, level, "github")),
		rategate.WithLogger(logger),
	)

	decision := gate.CheckAllowed(ctx, cfg.MinInterval, cfg.GitHub.RunID)
	if decision.Allowed {
		metrics.RecordRateDecision(metrics.DecisionAllowed)
		logger.Debug("rate gate passed", "reason", decision.Reason)
		return true
	}

	metrics.RecordRateDecision(metrics.DecisionDeferred)
	fmt.Fprintf(out, "Skipping purge: last successful run finished at %s, next purge allowed in %.0f minutes\n",
		decision.LastRunTimestamp, decision.MinutesRemaining())
	return false
}

// newHTTPClient wraps the default transport with request logging at debug level.
func newHTTPClient(logger *slog.Logger, level slog.Level, prefix string) *http.Client {
	if level > slog.LevelDebug {
		return &http.Client{}
	}
	return &http.Client{
		Transport: &teo.LoggingTransport{
			Transport: http.DefaultTransport,
			Logger:    logger,
			Prefix:    prefix,
		},
	}
}

// printSignedRequest writes sr with credential headers masked.
func printSignedRequest(w io.Writer, sr *teo.SignedRequest) {
	fmt.Fprintf(w, "POST %s\n", sr.URL)

	names := make([]string, 0, len(sr.Header))
	for name := range sr.Header {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		for _, value := range sr.Header[name] {
			fmt.Fprintf(w, "%s: %s\n", name, logging.MaskHeader(name, value))
		}
	}
	fmt.Fprintf(w, "\n%s\n", sr.Body)
}

func siteLabel(cfg *config.Config) string {
	if cfg.International {
		return teo.International.String()
	}
	return teo.Domestic.String()
}

func purgeOutcome(result *teo.PurgeResult, err error) string {
	var cfgErr *teo.ConfigError
	var apiErr *teo.APIError
	switch {
	case err == nil && result.PartiallyFailed():
		return metrics.OutcomePartial
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &cfgErr):
		return metrics.OutcomeConfigError
	case errors.As(err, &apiErr):
		return metrics.OutcomeAPIError
	default:
		return metrics.OutcomeTransportError
	}
}
