// Package config provides configuration loading and validation from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gmkits/edgeone-purge/internal/rategate"
	"github.com/gmkits/edgeone-purge/internal/teo"
)

// Config holds all settings of a purge invocation.
type Config struct {
	SecretID      string  // Required: Tencent Cloud SecretId
	SecretKey     string  // Required: Tencent Cloud SecretKey
	ZoneID        string  // Required: EdgeOne zone ID
	Targets       string  // Required: comma-separated purge targets
	PurgeType     string  // host, url, prefix (default host)
	International bool    // Use the international site endpoint
	Region        string  // X-TC-Region header value (default ap-guangzhou)
	Endpoint      string  // Optional: base URL overriding the site host, for testing
	MinInterval   float64 // Minimum hours between successful purges (0 = no limit)
	Timeout       time.Duration
	LogLevel      string // debug, info, warn, error
	MetricsFile   string // Optional: node-exporter textfile to write metrics to

	GitHub GitHub
}

// GitHub identifies the workflow run history consulted by the rate gate.
type GitHub struct {
	APIURL     string
	Token      string
	Repository string
	Workflow   string
	RunID      string

	// WorkflowRef is GITHUB_WORKFLOW_REF; its file name scopes the run query.
	WorkflowRef string
}

// Load parses configuration from environment variables.
// Optional settings receive defaults; malformed numeric or boolean values are errors.
func Load() (*Config, error) {
	cfg := &Config{
		SecretID:    os.Getenv("TENCENTCLOUD_SECRET_ID"),
		SecretKey:   os.Getenv("TENCENTCLOUD_SECRET_KEY"),
		ZoneID:      os.Getenv("EDGEONE_ZONE_ID"),
		Targets:     os.Getenv("EDGEONE_TARGETS"),
		PurgeType:   os.Getenv("EDGEONE_PURGE_TYPE"),
		Region:      os.Getenv("EDGEONE_REGION"),
		Endpoint:    os.Getenv("EDGEONE_ENDPOINT"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		MetricsFile: os.Getenv("METRICS_FILE"),
		GitHub: GitHub{
			APIURL:     os.Getenv("GITHUB_API_URL"),
			Token:      os.Getenv("GITHUB_TOKEN"),
			Repository: os.Getenv("GITHUB_REPOSITORY"),
			Workflow:   os.Getenv("GITHUB_WORKFLOW"),
			RunID:      os.Getenv("GITHUB_RUN_ID"),

			WorkflowRef: os.Getenv("GITHUB_WORKFLOW_REF"),
		},
	}

	if cfg.PurgeType == "" {
		cfg.PurgeType = string(teo.PurgeHost)
	}

	if cfg.Region == "" {
		cfg.Region = teo.DefaultRegion
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = rategate.DefaultAPIURL
	}

	cfg.Timeout = 30 * time.Second

	var errs []error

	if v := os.Getenv("EDGEONE_INTERNATIONAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, &teo.ConfigError{Field: "EDGEONE_INTERNATIONAL", Message: fmt.Sprintf("%q is not a boolean", v)})
		}
		cfg.International = b
	}

	if v := os.Getenv("PURGE_MIN_INTERVAL_HOURS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, &teo.ConfigError{Field: "PURGE_MIN_INTERVAL_HOURS", Message: fmt.Sprintf("%q is not a number", v)})
		}
		cfg.MinInterval = f
	}

	if v := os.Getenv("PURGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, &teo.ConfigError{Field: "PURGE_TIMEOUT", Message: fmt.Sprintf("%q is not a duration", v)})
		}
		cfg.Timeout = d
	}

	return cfg, errors.Join(errs...)
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.SecretID) == "" {
		errs = append(errs, &teo.ConfigError{Field: "secret id", Message: "set --secret-id or TENCENTCLOUD_SECRET_ID"})
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		errs = append(errs, &teo.ConfigError{Field: "secret key", Message: "set --secret-key or TENCENTCLOUD_SECRET_KEY"})
	}
	if strings.TrimSpace(c.ZoneID) == "" {
		errs = append(errs, &teo.ConfigError{Field: "zone id", Message: "set --zone-id or EDGEONE_ZONE_ID"})
	}
	if len(teo.ParseTargets(c.Targets)) == 0 {
		errs = append(errs, &teo.ConfigError{Field: "targets", Message: "set --targets or EDGEONE_TARGETS"})
	}
	if _, err := teo.ParsePurgeType(c.PurgeType); err != nil {
		errs = append(errs, err)
	}
	if c.Endpoint != "" {
		if err := teo.ValidateEndpoint(c.Endpoint); err != nil {
			errs = append(errs, &teo.ConfigError{Field: "endpoint", Message: err.Error()})
		}
	}
	if c.MinInterval < 0 {
		errs = append(errs, &teo.ConfigError{Field: "min interval", Message: "must not be negative"})
	}
	if c.Timeout <= 0 {
		errs = append(errs, &teo.ConfigError{Field: "timeout", Message: "must be positive"})
	}

	return errors.Join(errs...)
}

// Credentials returns the API key pair.
func (c *Config) Credentials() teo.Credentials {
	return teo.Credentials{SecretID: c.SecretID, SecretKey: c.SecretKey}
}

// PurgeSpec converts the configuration into a purge specification.
func (c *Config) PurgeSpec() (teo.PurgeSpec, error) {
	purgeType, err := teo.ParsePurgeType(c.PurgeType)
	if err != nil {
		return teo.PurgeSpec{}, err
	}

	site := teo.Domestic
	if c.International {
		site = teo.International
	}

	spec := teo.PurgeSpec{
		ZoneID:  strings.TrimSpace(c.ZoneID),
		Type:    purgeType,
		Targets: teo.ParseTargets(c.Targets),
		Site:    site,
	}
	return spec, spec.Validate()
}

// RateGate returns the run-history settings for the rate gate.
func (c *Config) RateGate() rategate.Config {
	return rategate.Config{
		APIURL:     c.GitHub.APIURL,
		Token:      c.GitHub.Token,
		Repository: c.GitHub.Repository,
		Workflow:   c.GitHub.Workflow,

		WorkflowFile: rategate.WorkflowFileFromRef(c.GitHub.WorkflowRef),
	}
}
