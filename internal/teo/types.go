// Package teo provides a signed client for the Tencent Cloud EdgeOne cache purge API.
package teo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gmkits/edgeone-purge/internal/logging"
)

const (
	// DomesticHost is the API endpoint of the China mainland site.
	DomesticHost = "teo.tencentcloudapi.com"

	// InternationalHost is the API endpoint of the international site.
	InternationalHost = "teo.intl.tencentcloudapi.com"

	// Action is the API action invoked for purges.
	Action = "CreatePurgeTask"

	// Version is the API version the request is pinned to.
	Version = "2022-09-01"

	// ContentType is sent verbatim and also signed in the canonical header block.
	ContentType = "application/json; charset=utf-8"

	// DefaultRegion is the region header the reference tooling sends.
	DefaultRegion = "ap-guangzhou"
)

// PurgeType selects what the targets of a purge are matched against.
type PurgeType string

// Supported purge types.
const (
	PurgeHost   PurgeType = "purge_host"
	PurgeURL    PurgeType = "purge_url"
	PurgePrefix PurgeType = "purge_prefix"
)

// ParsePurgeType accepts either the wire value ("purge_url") or its short form ("url").
func ParsePurgeType(s string) (PurgeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "host", string(PurgeHost):
		return PurgeHost, nil
	case "url", string(PurgeURL):
		return PurgeURL, nil
	case "prefix", string(PurgePrefix):
		return PurgePrefix, nil
	default:
		return "", &ConfigError{Field: "purge type", Message: fmt.Sprintf("%q is not one of host, url, prefix", s)}
	}
}

// SiteVariant selects the regional deployment of the API.
type SiteVariant int

// Site variants.
const (
	Domestic SiteVariant = iota
	International
)

// Host returns the API host of the site.
func (s SiteVariant) Host() string {
	if s == International {
		return InternationalHost
	}
	return DomesticHost
}

// String implements fmt.Stringer.
func (s SiteVariant) String() string {
	if s == International {
		return "international"
	}
	return "domestic"
}

// Credentials is a Tencent Cloud API key pair.
type Credentials struct {
	SecretID  string
	SecretKey string
}

// String masks the key pair so it is safe to print.
func (c Credentials) String() string {
	return logging.MaskSecret(c.SecretID) + ":[REDACTED]"
}

// LogValue implements slog.LogValuer; the secret key is never emitted.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("secret_id", logging.MaskSecret(c.SecretID)),
		slog.String("secret_key", "[REDACTED]"),
	)
}

// Validate checks that both halves of the key pair are present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.SecretID) == "" {
		return &ConfigError{Field: "secret id", Message: "must not be empty"}
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return &ConfigError{Field: "secret key", Message: "must not be empty"}
	}
	return nil
}

// PurgeSpec describes a single purge task.
type PurgeSpec struct {
	ZoneID  string
	Type    PurgeType
	Targets []string
	Site    SiteVariant
}

// Normalize returns a copy with surrounding whitespace removed from the zone
// and every target. The caller's Targets slice is not modified.
func (s PurgeSpec) Normalize() PurgeSpec {
	s.ZoneID = strings.TrimSpace(s.ZoneID)
	targets := make([]string, len(s.Targets))
	for i, target := range s.Targets {
		targets[i] = strings.TrimSpace(target)
	}
	s.Targets = targets
	return s
}

// Validate enforces a non-empty zone, a known type and at least one non-empty target.
func (s PurgeSpec) Validate() error {
	if strings.TrimSpace(s.ZoneID) == "" {
		return &ConfigError{Field: "zone id", Message: "must not be empty"}
	}
	switch s.Type {
	case PurgeHost, PurgeURL, PurgePrefix:
	default:
		return &ConfigError{Field: "purge type", Message: fmt.Sprintf("unsupported value %q", s.Type)}
	}
	if len(s.Targets) == 0 {
		return &ConfigError{Field: "targets", Message: "at least one target is required"}
	}
	for i, target := range s.Targets {
		if strings.TrimSpace(target) == "" {
			return &ConfigError{Field: "targets", Message: fmt.Sprintf("target %d is empty", i)}
		}
	}
	return nil
}

// ParseTargets splits a comma-separated target list, trimming each entry and
// dropping empty ones. Order and duplicates are preserved.
func ParseTargets(raw string) []string {
	var targets []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			targets = append(targets, part)
		}
	}
	return targets
}

// purgePayload is the CreatePurgeTask request body. Field order is the wire contract.
type purgePayload struct {
	ZoneID  string    `json:"ZoneId"`
	Type    PurgeType `json:"Type"`
	Targets []string  `json:"Targets"`
}

// PurgeResult is the outcome of an accepted purge request.
// Empty JobID or RequestID means the API did not return one.
type PurgeResult struct {
	JobID         string
	RequestID     string
	FailedTargets []string
	Failures      []FailReason
}

// PartiallyFailed reports whether the API accepted the task but rejected some targets.
func (r *PurgeResult) PartiallyFailed() bool {
	return len(r.FailedTargets) > 0
}

// FailReason groups targets the API refused for the same reason.
type FailReason struct {
	Reason  string   `json:"Reason"`
	Targets []string `json:"Targets"`
}

// failedList decodes FailedList items that are either bare strings or FailReason objects.
type failedList []FailReason

// UnmarshalJSON implements json.Unmarshaler.
func (f *failedList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(failedList, 0, len(raw))
	for _, item := range raw {
		var target string
		if err := json.Unmarshal(item, &target); err == nil {
			out = append(out, FailReason{Targets: []string{target}})
			continue
		}
		var reason FailReason
		if err := json.Unmarshal(item, &reason); err != nil {
			return err
		}
		out = append(out, reason)
	}
	*f = out
	return nil
}

// responseEnvelope is the common Tencent Cloud API 3.0 response shape.
type responseEnvelope struct {
	Response *responseBody `json:"Response"`
}

type responseBody struct {
	JobID      string        `json:"JobId"`
	RequestID  string        `json:"RequestId"`
	FailedList failedList    `json:"FailedList"`
	Error      *errorPayload `json:"Error"`
}

type errorPayload struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}
